package domain

import "time"

// SellOrder is a standing, partially fillable listing of item units at a fixed unit price.
// All monetary values are strictly uint64 in settlement-currency base units.
type SellOrder struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	MarketplaceID     string    `gorm:"index:idx_sell_order_asset" json:"marketplace_id"`
	AssetMint         string    `gorm:"index:idx_sell_order_asset" json:"asset_mint"`
	Price             uint64    `json:"price"`    // Per unit
	Quantity          uint64    `json:"quantity"` // > 0 while listed
	Authority         string    `json:"authority"`
	ItemSource        string    `json:"item_source"` // Seller account units were deposited from
	PayoutDestination string    `json:"payout_destination"`
	Version           uint64    `json:"version"` // Compare-and-swap guard
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLiveFor reports whether the order can be filled for mint in marketplace.
func (o *SellOrder) IsLiveFor(marketplaceID, mint string) bool {
	return o.Quantity > 0 && o.MarketplaceID == marketplaceID && o.AssetMint == mint
}

// BuyOffer is an all-or-nothing escrowed bid for one item unit.
type BuyOffer struct {
	ID                string    `gorm:"primaryKey" json:"id"`
	MarketplaceID     string    `gorm:"index" json:"marketplace_id"`
	AssetMint         string    `gorm:"index" json:"asset_mint"`
	ProposedPrice     uint64    `json:"proposed_price"`
	Currency          string    `json:"currency"` // Escrow slot the price was deposited into
	Authority         string    `json:"authority"`
	PayoutDestination string    `json:"payout_destination"` // Where the item lands on acceptance
	CreatedAt         time.Time `json:"created_at"`
}
