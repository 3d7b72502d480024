// Package engine settles marketplace writes: listings, buys, offers and
// marketplace configuration. It is a library surface; the daemon only
// calls it to seed configured marketplaces and collections.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"comptoir/internal/custody"
	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra"
	"comptoir/internal/infra/storage"
)

// Publisher receives events after their transaction committed.
type Publisher interface {
	Publish(ev event.Event)
}

// Engine settles every marketplace operation. Each public method is one
// unit of work: all of its balance moves, record writes and events commit
// together or not at all. Metadata is fetched before the transaction opens.
type Engine struct {
	store     *storage.Storage
	oracle    domain.MetadataOracle
	deriver   *custody.Deriver
	vault     *custody.Vault
	escrow    *custody.Escrow
	publisher Publisher
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// New creates an engine. publisher and metrics may be nil.
func New(store *storage.Storage, oracle domain.MetadataOracle, deriver *custody.Deriver, publisher Publisher, metrics *infra.Metrics) *Engine {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Engine{
		store:     store,
		oracle:    oracle,
		deriver:   deriver,
		vault:     custody.NewVault(deriver),
		escrow:    custody.NewEscrow(deriver),
		publisher: publisher,
		metrics:   metrics,
		logger:    slog.Default().With("module", "engine"),
	}
}

// Deriver exposes the address derivation used by the engine.
func (e *Engine) Deriver() *custody.Deriver {
	return e.deriver
}

// outbox collects events appended inside a transaction.
type outbox struct {
	tx     *storage.Tx
	events []event.Event
}

func (o *outbox) emit(t event.Type, payload any) error {
	ev := event.Event{Type: t, Payload: payload}
	if err := o.tx.AppendEvent(&ev); err != nil {
		return err
	}
	o.events = append(o.events, ev)
	return nil
}

// atomic runs fn in one transaction and publishes its events once committed.
func (e *Engine) atomic(ctx context.Context, op string, fn func(tx *storage.Tx, out *outbox) error) error {
	var box *outbox
	err := e.store.Atomic(ctx, func(tx *storage.Tx) error {
		box = &outbox{tx: tx}
		return fn(tx, box)
	})
	if err != nil {
		e.reject(op, err)
		return err
	}

	if e.publisher != nil {
		for _, ev := range box.events {
			e.publisher.Publish(ev)
		}
	}
	return nil
}

func (e *Engine) reject(op string, err error) {
	contended := errors.Is(err, domain.ErrContention)
	e.metrics.RecordRejection(contended)
	e.logger.Warn("Operation rejected",
		slog.String("op", op),
		slog.Bool("retriable", domain.IsRetriable(err)),
		slog.Any("error", err))
}

// lookup fetches item metadata outside any transaction.
func (e *Engine) lookup(ctx context.Context, op, mint string) (*domain.ItemMetadata, error) {
	md, err := e.oracle.Lookup(ctx, mint)
	if err != nil {
		err = fmt.Errorf("metadata for %s: %w", mint, err)
		e.reject(op, err)
		return nil, err
	}
	return md, nil
}

// loadScope loads a marketplace and one of its collections.
func loadScope(tx *storage.Tx, marketplaceID, collectionID string) (*domain.Marketplace, *domain.Collection, error) {
	m, err := tx.GetMarketplace(marketplaceID)
	if err != nil {
		return nil, nil, err
	}
	c, err := tx.GetCollection(collectionID)
	if err != nil {
		return nil, nil, err
	}
	if c.MarketplaceID != m.ID {
		return nil, nil, fmt.Errorf("%w: collection %s in marketplace %s", domain.ErrNotInitialized, c.ID, m.ID)
	}
	return m, c, nil
}

// royaltyTerms validates creator destinations against the derived payout
// accounts and returns the terms for ComputeSplit.
func (e *Engine) royaltyTerms(c *domain.Collection, md *domain.ItemMetadata, currency string, destinations []string) (domain.RoyaltyTerms, error) {
	if !c.RoyaltyApplies(md) {
		return domain.RoyaltyTerms{}, nil
	}
	if len(destinations) < len(md.Creators) {
		return domain.RoyaltyTerms{}, fmt.Errorf("%w: %d creators, %d destinations",
			domain.ErrCreatorPayoutMismatch, len(md.Creators), len(destinations))
	}
	for i, creator := range md.Creators {
		want := e.deriver.PayoutAccount(creator.Address, currency)
		if destinations[i] != want {
			return domain.RoyaltyTerms{}, fmt.Errorf("%w: creator %s expects %s, got %s",
				domain.ErrCreatorPayoutMismatch, creator.Address, want, destinations[i])
		}
	}
	return domain.RoyaltyTerms{
		Apply:        true,
		RoyaltyBps:   md.RoyaltyBps,
		Creators:     md.Creators,
		Destinations: destinations[:len(md.Creators)],
	}, nil
}

// payee is a payout address and the principal it belongs to.
type payee struct {
	address string
	owner   string
}

// openPayouts makes sure token payout accounts belong to their principal
// before a share lands in them. Native payouts go to the principal key and
// need nothing. An account that already exists keeps its owner.
func (e *Engine) openPayouts(tx *storage.Tx, currency string, split domain.Split, payees ...payee) error {
	if currency == domain.NativeCurrency {
		return nil
	}
	for _, p := range split.Creators {
		payees = append(payees, payee{address: p.Destination, owner: p.Creator})
	}
	for _, p := range payees {
		if p.address == "" {
			continue
		}
		if err := tx.OpenAccount(p.address, currency, p.owner); err != nil {
			return err
		}
	}
	return nil
}
