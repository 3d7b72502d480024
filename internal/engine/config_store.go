package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"comptoir/internal/domain"
	"comptoir/internal/infra/storage"
)

// MarketplaceParams describes a new marketplace.
type MarketplaceParams struct {
	Authority          string
	FeeBps             uint16
	FeeDestination     string
	SettlementCurrency string
}

// MarketplaceUpdate carries the fields to change; nil means unchanged.
// A new settlement currency must come with the fee destination for it.
type MarketplaceUpdate struct {
	Authority          *string
	FeeBps             *uint16
	FeeDestination     *string
	SettlementCurrency *string
}

// CollectionParams describes a new collection.
type CollectionParams struct {
	Marketplace          string
	Symbol               string
	RequiredVerifier     string
	FeeOverrideBps       *uint16
	IgnoreCreatorRoyalty bool
}

// CollectionUpdate carries the fields to change; nil means unchanged.
type CollectionUpdate struct {
	RequiredVerifier     *string
	FeeOverrideBps       *uint16
	ClearFeeOverride     bool
	IgnoreCreatorRoyalty *bool
}

// CreateMarketplace registers a marketplace at the address derived from its authority.
func (e *Engine) CreateMarketplace(ctx context.Context, p MarketplaceParams) (*domain.Marketplace, error) {
	m := &domain.Marketplace{
		ID:                 e.deriver.Marketplace(p.Authority),
		FeeBps:             p.FeeBps,
		FeeDestination:     p.FeeDestination,
		Authority:          p.Authority,
		SettlementCurrency: p.SettlementCurrency,
	}
	if m.SettlementCurrency == "" {
		m.SettlementCurrency = domain.NativeCurrency
	}

	err := e.atomic(ctx, "create_marketplace", func(tx *storage.Tx, _ *outbox) error {
		if err := m.Validate(); err != nil {
			return err
		}
		return tx.CreateMarketplace(m)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Marketplace created", slog.String("marketplace", m.ID), slog.Int("fee_bps", int(m.FeeBps)))
	return m, nil
}

// UpdateMarketplace applies u when signer is the marketplace authority.
func (e *Engine) UpdateMarketplace(ctx context.Context, id, signer string, u MarketplaceUpdate) (*domain.Marketplace, error) {
	var m *domain.Marketplace
	err := e.atomic(ctx, "update_marketplace", func(tx *storage.Tx, _ *outbox) error {
		var err error
		if m, err = tx.GetMarketplace(id); err != nil {
			return err
		}
		if m.Authority != signer {
			return fmt.Errorf("%w: %s is not the marketplace authority", domain.ErrUnauthorized, signer)
		}

		if u.SettlementCurrency != nil {
			if u.FeeDestination == nil {
				return &domain.ConfigError{Field: "fee_destination", Err: errors.New("a new settlement currency needs a new fee destination")}
			}
			m.SettlementCurrency = *u.SettlementCurrency
		}
		if u.FeeDestination != nil {
			m.FeeDestination = *u.FeeDestination
		}
		if u.FeeBps != nil {
			m.FeeBps = *u.FeeBps
		}
		if u.Authority != nil {
			m.Authority = *u.Authority
		}

		if err := m.Validate(); err != nil {
			return err
		}
		return tx.SaveMarketplace(m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateCollection registers a collection under a marketplace. Only the
// marketplace authority may do so.
func (e *Engine) CreateCollection(ctx context.Context, signer string, p CollectionParams) (*domain.Collection, error) {
	c := &domain.Collection{
		ID:                   e.deriver.Collection(p.Marketplace, p.Symbol),
		MarketplaceID:        p.Marketplace,
		Symbol:               p.Symbol,
		RequiredVerifier:     p.RequiredVerifier,
		FeeOverrideBps:       p.FeeOverrideBps,
		IgnoreCreatorRoyalty: p.IgnoreCreatorRoyalty,
	}

	err := e.atomic(ctx, "create_collection", func(tx *storage.Tx, _ *outbox) error {
		m, err := tx.GetMarketplace(p.Marketplace)
		if err != nil {
			return err
		}
		if m.Authority != signer {
			return fmt.Errorf("%w: %s is not the marketplace authority", domain.ErrUnauthorized, signer)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		return tx.CreateCollection(c)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Collection created", slog.String("collection", c.ID), slog.String("symbol", c.Symbol))
	return c, nil
}

// UpdateCollection applies u when signer is the owning marketplace's authority.
func (e *Engine) UpdateCollection(ctx context.Context, id, signer string, u CollectionUpdate) (*domain.Collection, error) {
	var c *domain.Collection
	err := e.atomic(ctx, "update_collection", func(tx *storage.Tx, _ *outbox) error {
		var err error
		if c, err = tx.GetCollection(id); err != nil {
			return err
		}
		m, err := tx.GetMarketplace(c.MarketplaceID)
		if err != nil {
			return err
		}
		if m.Authority != signer {
			return fmt.Errorf("%w: %s is not the marketplace authority", domain.ErrUnauthorized, signer)
		}

		if u.RequiredVerifier != nil {
			c.RequiredVerifier = *u.RequiredVerifier
		}
		if u.ClearFeeOverride {
			c.FeeOverrideBps = nil
		} else if u.FeeOverrideBps != nil {
			c.FeeOverrideBps = u.FeeOverrideBps
		}
		if u.IgnoreCreatorRoyalty != nil {
			c.IgnoreCreatorRoyalty = *u.IgnoreCreatorRoyalty
		}

		if err := c.Validate(); err != nil {
			return err
		}
		return tx.SaveCollection(c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
