package domain

import (
	"fmt"
	"time"
)

// Account is a ledger balance of one asset at one address.
// Item units and currency both live in accounts; custody slots are accounts
// owned by their own derived address.
type Account struct {
	Address   string    `gorm:"primaryKey" json:"address"`
	Asset     string    `gorm:"primaryKey" json:"asset"`
	Owner     string    `gorm:"index" json:"owner"`
	Amount    uint64    `json:"amount"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credit adds funds to the account.
func (a *Account) Credit(amount uint64) error {
	sum, err := CheckedAddStored(a.Amount, amount)
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", a.Address, a.Asset, err)
	}
	a.Amount = sum
	return nil
}

// Debit removes funds from the account.
func (a *Account) Debit(amount uint64) error {
	if amount > a.Amount {
		return fmt.Errorf("%w: %s/%s need %d, available %d",
			ErrInsufficientFunds, a.Address, a.Asset, amount, a.Amount)
	}
	a.Amount -= amount
	return nil
}

// AccountKey is the composite key of an Account.
func AccountKey(address, asset string) string {
	return address + "/" + asset
}
