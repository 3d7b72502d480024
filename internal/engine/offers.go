package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra/storage"
)

// OfferRequest escrows ProposedPrice as a bid for one unit of AssetMint.
type OfferRequest struct {
	Marketplace       string
	Collection        string
	Buyer             string
	PayingAccount     string // Defaults to the buyer's payout account for the settlement currency
	AssetMint         string
	ProposedPrice     uint64
	PayoutDestination string // Where the item lands; defaults to Buyer
}

// CancelRequest withdraws an offer and refunds its escrow.
type CancelRequest struct {
	BuyOffer      string
	Signer        string
	RefundAccount string // Defaults to the buyer's payout account for the offer currency
}

// ExecuteRequest accepts an offer. Buyer is the principal the trade is
// executed for and must be the offer's authority; Seller signs the item move.
type ExecuteRequest struct {
	BuyOffer               string
	Collection             string
	Buyer                  string
	Seller                 string
	SellerItemSource       string // Defaults to Seller
	SellerFundsDestination string // Defaults to the seller's payout account
	CreatorDestinations    []string
}

// CreateOffer verifies the item and escrows the proposed price.
func (e *Engine) CreateOffer(ctx context.Context, r OfferRequest) (*domain.BuyOffer, error) {
	if r.PayoutDestination == "" {
		r.PayoutDestination = r.Buyer
	}

	md, err := e.lookup(ctx, "create_offer", r.AssetMint)
	if err != nil {
		return nil, err
	}

	var offer *domain.BuyOffer
	err = e.atomic(ctx, "create_offer", func(tx *storage.Tx, out *outbox) error {
		m, c, err := loadScope(tx, r.Marketplace, r.Collection)
		if err != nil {
			return err
		}
		if err := c.VerifyItem(r.AssetMint, md); err != nil {
			return err
		}

		offer = &domain.BuyOffer{
			ID:                e.deriver.BuyOffer(m.ID, r.Buyer, r.AssetMint, r.ProposedPrice),
			MarketplaceID:     m.ID,
			AssetMint:         r.AssetMint,
			ProposedPrice:     r.ProposedPrice,
			Currency:          m.SettlementCurrency,
			Authority:         r.Buyer,
			PayoutDestination: r.PayoutDestination,
		}
		if err := tx.CreateBuyOffer(offer); err != nil {
			return err
		}

		paying := r.PayingAccount
		if paying == "" {
			paying = e.deriver.PayoutAccount(r.Buyer, offer.Currency)
		}
		if err := e.escrow.Deposit(tx, m.ID, offer.Currency, paying, r.Buyer, r.ProposedPrice); err != nil {
			return err
		}
		return out.emit(event.TypeBuyOfferCreated, event.BuyOfferCreated{
			BuyOffer:         offer.ID,
			AssetMint:        offer.AssetMint,
			PriceProposition: offer.ProposedPrice,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferCreated()
	e.logger.Info("Buy offer created",
		slog.String("buy_offer", offer.ID),
		slog.String("mint", offer.AssetMint),
		slog.Uint64("price", offer.ProposedPrice))
	return offer, nil
}

// CancelOffer refunds the full escrowed price and destroys the offer.
func (e *Engine) CancelOffer(ctx context.Context, r CancelRequest) error {
	err := e.atomic(ctx, "cancel_offer", func(tx *storage.Tx, out *outbox) error {
		offer, err := tx.GetBuyOffer(r.BuyOffer)
		if err != nil {
			return err
		}
		if offer.Authority != r.Signer {
			return fmt.Errorf("%w: %s does not own buy offer %s", domain.ErrUnauthorized, r.Signer, offer.ID)
		}

		refund := r.RefundAccount
		if refund == "" {
			refund = e.deriver.PayoutAccount(offer.Authority, offer.Currency)
		}
		slot := e.escrow.Address(offer.MarketplaceID, offer.Currency)
		if err := e.escrow.Withdraw(tx, offer.MarketplaceID, offer.Currency, refund, offer.ProposedPrice, e.deriver.Authorize(slot)); err != nil {
			return err
		}
		if err := tx.DeleteBuyOffer(offer.ID); err != nil {
			return err
		}
		return out.emit(event.TypeBuyOfferRemoved, event.BuyOfferRemoved{BuyOffer: offer.ID})
	})
	if err != nil {
		return err
	}

	e.metrics.RecordOfferCanceled()
	return nil
}

// ExecuteOffer moves one unit from the seller straight to the offer's payout
// destination and pays the split of the escrowed price.
func (e *Engine) ExecuteOffer(ctx context.Context, r ExecuteRequest) (*domain.Split, error) {
	start := time.Now()
	if r.SellerItemSource == "" {
		r.SellerItemSource = r.Seller
	}

	// The mint is needed for the metadata lookup before the transaction opens
	pending, err := e.store.View(ctx).GetBuyOffer(r.BuyOffer)
	if err != nil {
		e.reject("execute_offer", err)
		return nil, err
	}
	md, err := e.lookup(ctx, "execute_offer", pending.AssetMint)
	if err != nil {
		return nil, err
	}

	var split domain.Split
	err = e.atomic(ctx, "execute_offer", func(tx *storage.Tx, out *outbox) error {
		offer, err := tx.GetBuyOffer(r.BuyOffer)
		if err != nil {
			return err
		}
		if offer.Authority != r.Buyer {
			return fmt.Errorf("%w: offer %s belongs to %s, not %s", domain.ErrUnauthorized, offer.ID, offer.Authority, r.Buyer)
		}
		m, c, err := loadScope(tx, offer.MarketplaceID, r.Collection)
		if err != nil {
			return err
		}
		if err := c.VerifyItem(offer.AssetMint, md); err != nil {
			return err
		}

		if err := tx.Transfer(offer.AssetMint, r.SellerItemSource, offer.PayoutDestination, 1, r.Seller); err != nil {
			return err
		}

		royalty, err := e.royaltyTerms(c, md, offer.Currency, r.CreatorDestinations)
		if err != nil {
			return err
		}
		if split, err = domain.ComputeSplit(offer.ProposedPrice, c.EffectiveFeeBps(m), royalty); err != nil {
			return err
		}

		funds := r.SellerFundsDestination
		if funds == "" {
			funds = e.deriver.PayoutAccount(r.Seller, offer.Currency)
		}
		if err := e.payFromEscrow(tx, m, offer, payee{address: funds, owner: r.Seller}, split); err != nil {
			return err
		}

		if err := tx.DeleteBuyOffer(offer.ID); err != nil {
			return err
		}
		return out.emit(event.TypeOfferExecuted, event.OfferExecuted{
			BuyOffer: offer.ID,
			Seller:   r.Seller,
			Price:    offer.ProposedPrice,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordOfferExecuted(split.Total, time.Since(start))
	e.logger.Info("Buy offer executed",
		slog.String("buy_offer", r.BuyOffer),
		slog.String("seller", r.Seller),
		slog.Uint64("price", split.Total))
	return &split, nil
}

// payFromEscrow pays every share of split out of the offer's escrow slot.
func (e *Engine) payFromEscrow(tx *storage.Tx, m *domain.Marketplace, offer *domain.BuyOffer, seller payee, split domain.Split) error {
	err := e.openPayouts(tx, offer.Currency, split, seller, payee{address: m.FeeDestination, owner: m.Authority})
	if err != nil {
		return err
	}

	slot := e.escrow.Address(offer.MarketplaceID, offer.Currency)
	proof := e.deriver.Authorize(slot)

	pay := func(to string, amount uint64) error {
		return e.escrow.Withdraw(tx, offer.MarketplaceID, offer.Currency, to, amount, proof)
	}

	if err := pay(seller.address, split.Seller); err != nil {
		return err
	}
	if err := pay(m.FeeDestination, split.Marketplace); err != nil {
		return err
	}
	for _, p := range split.Creators {
		if err := pay(p.Destination, p.Amount); err != nil {
			return err
		}
	}
	return nil
}
