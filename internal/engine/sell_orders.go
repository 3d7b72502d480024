package engine

import (
	"context"
	"fmt"
	"log/slog"

	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra/storage"
)

// ListRequest lists quantity units of AssetMint at a unit Price.
type ListRequest struct {
	Marketplace       string
	Collection        string
	Seller            string
	ItemSource        string // Seller account holding the units; defaults to Seller
	AssetMint         string
	Price             uint64
	Quantity          uint64
	PayoutDestination string
}

// AdjustRequest changes the listed quantity of an order.
type AdjustRequest struct {
	SellOrder string
	Signer    string
	Delta     uint64
}

// CreateSellOrder verifies the item belongs to the collection, moves the
// units into the marketplace vault and records the order.
func (e *Engine) CreateSellOrder(ctx context.Context, r ListRequest) (*domain.SellOrder, error) {
	if r.Quantity == 0 {
		err := fmt.Errorf("%w: cannot list zero units", domain.ErrInvalidQuantity)
		e.reject("create_sell_order", err)
		return nil, err
	}
	if err := domain.CheckStored(r.Price); err != nil {
		e.reject("create_sell_order", err)
		return nil, err
	}
	if r.ItemSource == "" {
		r.ItemSource = r.Seller
	}

	md, err := e.lookup(ctx, "create_sell_order", r.AssetMint)
	if err != nil {
		return nil, err
	}

	order := &domain.SellOrder{
		ID:                e.deriver.SellOrder(r.ItemSource, r.AssetMint, r.Price),
		MarketplaceID:     r.Marketplace,
		AssetMint:         r.AssetMint,
		Price:             r.Price,
		Quantity:          r.Quantity,
		Authority:         r.Seller,
		ItemSource:        r.ItemSource,
		PayoutDestination: r.PayoutDestination,
	}

	err = e.atomic(ctx, "create_sell_order", func(tx *storage.Tx, out *outbox) error {
		m, c, err := loadScope(tx, r.Marketplace, r.Collection)
		if err != nil {
			return err
		}
		if err := c.VerifyItem(r.AssetMint, md); err != nil {
			return err
		}
		if err := tx.CreateSellOrder(order); err != nil {
			return err
		}
		if err := e.openPayouts(tx, m.SettlementCurrency, domain.Split{}, payee{address: order.PayoutDestination, owner: order.Authority}); err != nil {
			return err
		}
		if err := e.vault.Deposit(tx, m.ID, r.AssetMint, r.ItemSource, r.Seller, r.Quantity); err != nil {
			return err
		}
		return out.emit(event.TypeSellOrderCreated, event.SellOrderCreated{
			SellOrder:   order.ID,
			Marketplace: order.MarketplaceID,
			AssetMint:   order.AssetMint,
			Price:       order.Price,
			Quantity:    order.Quantity,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordListing()
	e.logger.Info("Sell order created",
		slog.String("sell_order", order.ID),
		slog.String("mint", order.AssetMint),
		slog.Uint64("price", order.Price),
		slog.Uint64("quantity", order.Quantity))
	return order, nil
}

// AddQuantity deposits Delta more units into the vault for the order.
func (e *Engine) AddQuantity(ctx context.Context, r AdjustRequest) (*domain.SellOrder, error) {
	var order *domain.SellOrder
	err := e.atomic(ctx, "add_quantity", func(tx *storage.Tx, out *outbox) error {
		var err error
		if order, err = authorizedOrder(tx, r); err != nil {
			return err
		}

		qty, err := domain.CheckedAddStored(order.Quantity, r.Delta)
		if err != nil {
			return err
		}
		if err := e.vault.Deposit(tx, order.MarketplaceID, order.AssetMint, order.ItemSource, r.Signer, r.Delta); err != nil {
			return err
		}
		order.Quantity = qty
		if err := tx.UpdateSellOrder(order); err != nil {
			return err
		}
		return out.emit(event.TypeSellOrderQuantityAdded, event.SellOrderQuantityAdded{
			SellOrder:     order.ID,
			QuantityAdded: r.Delta,
			Quantity:      order.Quantity,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RemoveQuantity returns Delta units from the vault to the seller. An order
// reaching zero is destroyed, in which case the returned order has Quantity 0.
func (e *Engine) RemoveQuantity(ctx context.Context, r AdjustRequest) (*domain.SellOrder, error) {
	var order *domain.SellOrder
	err := e.atomic(ctx, "remove_quantity", func(tx *storage.Tx, out *outbox) error {
		var err error
		if order, err = authorizedOrder(tx, r); err != nil {
			return err
		}
		if r.Delta > order.Quantity {
			return fmt.Errorf("%w: unlisting %d of %d", domain.ErrUnlistMoreThanOwned, r.Delta, order.Quantity)
		}

		slot := e.vault.Address(order.MarketplaceID, order.AssetMint)
		if err := e.vault.Withdraw(tx, order.MarketplaceID, order.AssetMint, order.ItemSource, r.Delta, e.deriver.Authorize(slot)); err != nil {
			return err
		}

		order.Quantity -= r.Delta
		closed := order.Quantity == 0
		if closed {
			err = tx.DeleteSellOrder(order)
		} else {
			err = tx.UpdateSellOrder(order)
		}
		if err != nil {
			return err
		}
		return out.emit(event.TypeSellOrderRemoved, event.SellOrderRemoved{
			SellOrder:        order.ID,
			QuantityToUnlist: r.Delta,
			Closed:           closed,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func authorizedOrder(tx *storage.Tx, r AdjustRequest) (*domain.SellOrder, error) {
	order, err := tx.GetSellOrder(r.SellOrder)
	if err != nil {
		return nil, err
	}
	if order.Authority != r.Signer {
		return nil, fmt.Errorf("%w: %s does not own sell order %s", domain.ErrUnauthorized, r.Signer, order.ID)
	}
	return order, nil
}
