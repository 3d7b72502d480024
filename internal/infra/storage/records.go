package storage

import (
	"errors"
	"fmt"
	"time"

	"comptoir/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Marketplace / Collection
// ======================================================================================

// GetMarketplace loads a marketplace by its derived address.
func (t *Tx) GetMarketplace(id string) (*domain.Marketplace, error) {
	var m domain.Marketplace
	if err := t.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "marketplace", id)
	}
	return &m, nil
}

// CreateMarketplace inserts a new marketplace. Derived addresses are single-use.
func (t *Tx) CreateMarketplace(m *domain.Marketplace) error {
	if err := t.ensureAbsent(&domain.Marketplace{}, m.ID); err != nil {
		return err
	}
	return t.db.Create(m).Error
}

// SaveMarketplace persists configuration changes.
func (t *Tx) SaveMarketplace(m *domain.Marketplace) error {
	return t.db.Save(m).Error
}

// ListMarketplaces returns every marketplace ordered by id.
func (t *Tx) ListMarketplaces() ([]domain.Marketplace, error) {
	var out []domain.Marketplace
	err := t.db.Order("id").Find(&out).Error
	return out, err
}

// GetCollection loads a collection by its derived address.
func (t *Tx) GetCollection(id string) (*domain.Collection, error) {
	var c domain.Collection
	if err := t.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "collection", id)
	}
	return &c, nil
}

// CreateCollection inserts a new collection.
func (t *Tx) CreateCollection(c *domain.Collection) error {
	if err := t.ensureAbsent(&domain.Collection{}, c.ID); err != nil {
		return err
	}
	return t.db.Create(c).Error
}

// SaveCollection persists configuration changes.
func (t *Tx) SaveCollection(c *domain.Collection) error {
	return t.db.Save(c).Error
}

// ListCollections returns the collections of a marketplace.
func (t *Tx) ListCollections(marketplaceID string) ([]domain.Collection, error) {
	var out []domain.Collection
	err := t.db.Where("marketplace_id = ?", marketplaceID).Order("symbol").Find(&out).Error
	return out, err
}

// ======================================================================================
// Sell Orders
// ======================================================================================

// GetSellOrder loads a sell order.
func (t *Tx) GetSellOrder(id string) (*domain.SellOrder, error) {
	var o domain.SellOrder
	if err := t.db.First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "sell order", id)
	}
	return &o, nil
}

// FindSellOrder is GetSellOrder that reports a missing order as nil.
func (t *Tx) FindSellOrder(id string) (*domain.SellOrder, error) {
	o, err := t.GetSellOrder(id)
	if errors.Is(err, domain.ErrNotInitialized) {
		return nil, nil
	}
	return o, err
}

// CreateSellOrder inserts a new sell order at version 1.
func (t *Tx) CreateSellOrder(o *domain.SellOrder) error {
	if err := t.ensureAbsent(&domain.SellOrder{}, o.ID); err != nil {
		return err
	}
	o.Version = 1
	return t.db.Create(o).Error
}

// UpdateSellOrder writes quantity and price back if the order is still at
// the version that was read; otherwise it returns a ContentionError.
func (t *Tx) UpdateSellOrder(o *domain.SellOrder) error {
	now := time.Now()
	res := t.db.Model(&domain.SellOrder{}).
		Where("id = ? AND version = ?", o.ID, o.Version).
		Updates(map[string]any{
			"quantity":   o.Quantity,
			"price":      o.Price,
			"version":    o.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewContentionError("sell_order/" + o.ID)
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

// DeleteSellOrder removes an order at the version that was read.
func (t *Tx) DeleteSellOrder(o *domain.SellOrder) error {
	res := t.db.Where("id = ? AND version = ?", o.ID, o.Version).Delete(&domain.SellOrder{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewContentionError("sell_order/" + o.ID)
	}
	return nil
}

// ListSellOrders returns the live orders for mint in a marketplace, cheapest first.
func (t *Tx) ListSellOrders(marketplaceID, mint string) ([]domain.SellOrder, error) {
	var out []domain.SellOrder
	err := t.db.
		Where("marketplace_id = ? AND asset_mint = ? AND quantity > 0", marketplaceID, mint).
		Order("price ASC, created_at ASC").
		Find(&out).Error
	return out, err
}

// ======================================================================================
// Buy Offers
// ======================================================================================

// GetBuyOffer loads a buy offer.
func (t *Tx) GetBuyOffer(id string) (*domain.BuyOffer, error) {
	var o domain.BuyOffer
	if err := t.db.First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "buy offer", id)
	}
	return &o, nil
}

// CreateBuyOffer inserts an offer. One offer per (marketplace, buyer, mint, price).
func (t *Tx) CreateBuyOffer(o *domain.BuyOffer) error {
	if err := t.ensureAbsent(&domain.BuyOffer{}, o.ID); err != nil {
		return err
	}
	return t.db.Create(o).Error
}

// DeleteBuyOffer closes an offer. A concurrent close surfaces as contention.
func (t *Tx) DeleteBuyOffer(id string) error {
	res := t.db.Where("id = ?", id).Delete(&domain.BuyOffer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewContentionError("buy_offer/" + id)
	}
	return nil
}

// ListBuyOffers returns the open offers for mint, best price first.
func (t *Tx) ListBuyOffers(marketplaceID, mint string) ([]domain.BuyOffer, error) {
	var out []domain.BuyOffer
	err := t.db.
		Where("marketplace_id = ? AND asset_mint = ?", marketplaceID, mint).
		Order("proposed_price DESC, created_at ASC").
		Find(&out).Error
	return out, err
}

// ======================================================================================
// Icons
// ======================================================================================

// UpsertIcon creates or updates a cached collection icon
func (t *Tx) UpsertIcon(icon *domain.CollectionIcon) error {
	return t.db.Save(icon).Error
}

// GetIcon retrieves a cached icon. Not found is not an error.
func (t *Tx) GetIcon(collectionID string) (*domain.CollectionIcon, error) {
	var icon domain.CollectionIcon
	err := t.db.First(&icon, "collection_id = ?", collectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &icon, err
}

func (t *Tx) ensureAbsent(model any, id string) error {
	var n int64
	if err := t.db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyInitialized, id)
	}
	return nil
}
