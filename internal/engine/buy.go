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

// BuyRequest sweeps AskQuantity units of AssetMint across the sell orders
// named in Entries, in the order given.
type BuyRequest struct {
	Marketplace     string
	Collection      string
	Buyer           string
	PayingAccount   string // Defaults to the buyer's payout account for the settlement currency
	ItemDestination string // Defaults to Buyer
	AssetMint       string
	AskQuantity     uint64
	MaxPrice        *uint64
	Entries         []domain.Entry
}

// Fill is one sell order consumed by a buy.
type Fill struct {
	SellOrder string       `json:"sell_order"`
	Price     uint64       `json:"price"`
	Quantity  uint64       `json:"quantity"`
	Closed    bool         `json:"closed"`
	Split     domain.Split `json:"split"`
}

// BuyReceipt lists the fills of a committed buy.
type BuyReceipt struct {
	Fills    []Fill `json:"fills"`
	Quantity uint64 `json:"quantity"`
	Total    uint64 `json:"total"`
}

// Buy settles a sweep. The batch is a creator-destination prefix (only when
// royalties apply) followed by sell-order fills. A fill naming an order that
// is missing, closed, or for another asset or marketplace is skipped. Any
// failure, including not reaching AskQuantity, discards the whole sweep.
func (e *Engine) Buy(ctx context.Context, r BuyRequest) (*BuyReceipt, error) {
	start := time.Now()

	if r.AskQuantity == 0 {
		err := fmt.Errorf("%w: ask quantity is zero", domain.ErrInvalidQuantity)
		e.reject("buy", err)
		return nil, err
	}
	if r.ItemDestination == "" {
		r.ItemDestination = r.Buyer
	}

	md, err := e.lookup(ctx, "buy", r.AssetMint)
	if err != nil {
		return nil, err
	}

	var receipt *BuyReceipt
	err = e.atomic(ctx, "buy", func(tx *storage.Tx, out *outbox) error {
		m, c, err := loadScope(tx, r.Marketplace, r.Collection)
		if err != nil {
			return err
		}
		if err := c.VerifyItem(r.AssetMint, md); err != nil {
			return err
		}

		currency := m.SettlementCurrency
		paying := r.PayingAccount
		if paying == "" {
			paying = e.deriver.PayoutAccount(r.Buyer, currency)
		}
		feeBps := c.EffectiveFeeBps(m)

		// Creator destinations lead the batch
		var creatorDestinations []string
		pos := 0
		if c.RoyaltyApplies(md) {
			n := len(md.Creators)
			if len(r.Entries) < n {
				return fmt.Errorf("%w: batch shorter than %d creator entries", domain.ErrCreatorPayoutMismatch, n)
			}
			for i, entry := range r.Entries[:n] {
				if entry.Kind != domain.EntryCreatorPayout {
					return fmt.Errorf("%w: entry %d is %s", domain.ErrCreatorPayoutMismatch, i, entry.Kind)
				}
				creatorDestinations = append(creatorDestinations, entry.Destination)
			}
			pos = n
		}
		royalty, err := e.royaltyTerms(c, md, currency, creatorDestinations)
		if err != nil {
			return err
		}

		vaultSlot := e.vault.Address(m.ID, r.AssetMint)
		proof := e.deriver.Authorize(vaultSlot)

		remaining := r.AskQuantity
		receipt = &BuyReceipt{}

		for _, entry := range r.Entries[pos:] {
			if remaining == 0 {
				break
			}
			if entry.Kind != domain.EntrySellOrderFill {
				continue
			}
			order, err := tx.FindSellOrder(entry.SellOrderID)
			if err != nil {
				return err
			}
			if order == nil || !order.IsLiveFor(m.ID, r.AssetMint) {
				e.logger.Debug("Skipping batch entry", slog.String("sell_order", entry.SellOrderID))
				continue
			}

			if r.MaxPrice != nil && order.Price > *r.MaxPrice {
				return fmt.Errorf("%w: %d > %d on %s", domain.ErrPriceAboveMax, order.Price, *r.MaxPrice, order.ID)
			}
			if entry.Destination != order.PayoutDestination {
				return fmt.Errorf("%w: sell order %s pays %s, got %s",
					domain.ErrDestinationMismatch, order.ID, order.PayoutDestination, entry.Destination)
			}

			toBuy := min(remaining, order.Quantity)
			if err := e.vault.Withdraw(tx, m.ID, r.AssetMint, r.ItemDestination, toBuy, proof); err != nil {
				return err
			}

			total, err := domain.CheckedMul(order.Price, toBuy)
			if err != nil {
				return err
			}
			split, err := domain.ComputeSplit(total, feeBps, royalty)
			if err != nil {
				return err
			}
			if err := e.payFromBuyer(tx, m, order, currency, paying, r.Buyer, split); err != nil {
				return err
			}

			order.Quantity -= toBuy
			closed := order.Quantity == 0
			if closed {
				err = tx.DeleteSellOrder(order)
			} else {
				err = tx.UpdateSellOrder(order)
			}
			if err != nil {
				return err
			}

			remaining -= toBuy
			receipt.Fills = append(receipt.Fills, Fill{
				SellOrder: order.ID,
				Price:     order.Price,
				Quantity:  toBuy,
				Closed:    closed,
				Split:     split,
			})
			receipt.Quantity += toBuy
			if receipt.Total, err = domain.CheckedAdd(receipt.Total, total); err != nil {
				return err
			}
		}

		if remaining != 0 {
			return fmt.Errorf("%w: %d of %d units unfilled", domain.ErrInsufficientLiquidity, remaining, r.AskQuantity)
		}

		return out.emit(event.TypeBuy, event.Buy{
			Buyer:       r.Buyer,
			Marketplace: m.ID,
			Collection:  c.ID,
			AssetMint:   r.AssetMint,
			AskQuantity: r.AskQuantity,
			MaxPrice:    r.MaxPrice,
			Fills:       len(receipt.Fills),
			Total:       receipt.Total,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordBuy(len(receipt.Fills), receipt.Quantity, receipt.Total, time.Since(start))
	e.logger.Info("Buy settled",
		slog.String("buyer", r.Buyer),
		slog.String("mint", r.AssetMint),
		slog.Uint64("quantity", receipt.Quantity),
		slog.Uint64("total", receipt.Total),
		slog.Int("fills", len(receipt.Fills)))
	return receipt, nil
}

// payFromBuyer moves the shares of split out of the buyer's account.
func (e *Engine) payFromBuyer(tx *storage.Tx, m *domain.Marketplace, order *domain.SellOrder, currency, paying, buyer string, split domain.Split) error {
	err := e.openPayouts(tx, currency, split,
		payee{address: order.PayoutDestination, owner: order.Authority},
		payee{address: m.FeeDestination, owner: m.Authority})
	if err != nil {
		return err
	}

	if err := tx.Transfer(currency, paying, order.PayoutDestination, split.Seller, buyer); err != nil {
		return err
	}
	if err := tx.Transfer(currency, paying, m.FeeDestination, split.Marketplace, buyer); err != nil {
		return err
	}
	for _, p := range split.Creators {
		if err := tx.Transfer(currency, paying, p.Destination, p.Amount, buyer); err != nil {
			return err
		}
	}
	return nil
}
