package domain

import (
	"fmt"
	"strings"
	"time"
)

// NativeCurrency identifies the ledger's native settlement currency.
// Creators are paid to their own key in the native currency and to a
// derived token account for any other currency.
const NativeCurrency = "native"

// Marketplace (comptoir) is the fee and authority configuration governing collections.
type Marketplace struct {
	ID                 string    `gorm:"primaryKey" json:"id"`
	FeeBps             uint16    `json:"fee_bps"`
	FeeDestination     string    `json:"fee_destination"`
	Authority          string    `gorm:"index" json:"authority"`
	SettlementCurrency string    `json:"settlement_currency"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks the fee bound.
func (m *Marketplace) Validate() error {
	if m.FeeBps > MaxFeeBps {
		return &ConfigError{Field: "fee_bps", Err: fmt.Errorf("%w: %d > %d", ErrFeeOutOfRange, m.FeeBps, MaxFeeBps)}
	}
	return nil
}

// IsNative reports whether trades settle in the native currency.
func (m *Marketplace) IsNative() bool {
	return m.SettlementCurrency == NativeCurrency
}

// Collection groups items sharing a fee and royalty policy.
type Collection struct {
	ID                   string    `gorm:"primaryKey" json:"id"`
	MarketplaceID        string    `gorm:"uniqueIndex:idx_collection_symbol" json:"marketplace_id"`
	Symbol               string    `gorm:"uniqueIndex:idx_collection_symbol" json:"symbol"`
	RequiredVerifier     string    `json:"required_verifier"`
	FeeOverrideBps       *uint16   `json:"fee_override_bps,omitempty"` // Replaces the marketplace fee when set
	IgnoreCreatorRoyalty bool      `json:"ignore_creator_royalty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Validate checks the fee override bound.
func (c *Collection) Validate() error {
	if c.FeeOverrideBps != nil && *c.FeeOverrideBps > MaxFeeBps {
		return &ConfigError{Field: "fee_override_bps", Err: fmt.Errorf("%w: %d > %d", ErrFeeOutOfRange, *c.FeeOverrideBps, MaxFeeBps)}
	}
	return nil
}

// EffectiveFeeBps returns the collection override, or the marketplace fee.
func (c *Collection) EffectiveFeeBps(m *Marketplace) uint16 {
	if c.FeeOverrideBps != nil {
		return *c.FeeOverrideBps
	}
	return m.FeeBps
}

// IsPartOfCollection reports whether the item metadata proves membership:
// the symbol carries the collection symbol as prefix and the required
// verifier is among the verified creators.
func (c *Collection) IsPartOfCollection(md *ItemMetadata) bool {
	if md == nil || len(md.Creators) == 0 {
		return false
	}
	if !strings.HasPrefix(md.Symbol, c.Symbol) {
		return false
	}
	for _, creator := range md.Creators {
		if creator.Verified && creator.Address == c.RequiredVerifier {
			return true
		}
	}
	return false
}

// VerifyItem returns ErrAuthenticityCheckFailed unless md proves membership.
func (c *Collection) VerifyItem(mint string, md *ItemMetadata) error {
	if !c.IsPartOfCollection(md) {
		return fmt.Errorf("%w: %s not part of collection %s", ErrAuthenticityCheckFailed, mint, c.Symbol)
	}
	return nil
}

// RoyaltyApplies reports whether trades in this collection pay creators.
func (c *Collection) RoyaltyApplies(md *ItemMetadata) bool {
	return !c.IgnoreCreatorRoyalty && md != nil && len(md.Creators) > 0
}
