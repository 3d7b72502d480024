package storage

import (
	"errors"
	"fmt"
	"time"

	"comptoir/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Ledger
// ======================================================================================

// Balance returns the amount of asset held at address. Missing accounts hold zero.
func (t *Tx) Balance(address, asset string) (uint64, error) {
	acc, err := t.findAccount(address, asset)
	if err != nil || acc == nil {
		return 0, err
	}
	return acc.Amount, nil
}

// Account returns the account, or nil when it was never opened.
func (t *Tx) Account(address, asset string) (*domain.Account, error) {
	return t.findAccount(address, asset)
}

// Accounts lists every account owned by owner.
func (t *Tx) Accounts(owner string) ([]domain.Account, error) {
	var out []domain.Account
	err := t.db.Where("owner = ?", owner).Order("address, asset").Find(&out).Error
	return out, err
}

// OpenAccount creates an empty account if it does not exist yet.
func (t *Tx) OpenAccount(address, asset, owner string) error {
	acc, err := t.findAccount(address, asset)
	if err != nil || acc != nil {
		return err
	}
	return t.db.Create(&domain.Account{Address: address, Asset: asset, Owner: owner, Version: 1}).Error
}

// Credit mints amount into an account, opening it for owner when missing.
// Used for deposits from outside the ledger and for seeding.
func (t *Tx) Credit(address, asset, owner string, amount uint64) error {
	acc, err := t.findAccount(address, asset)
	if err != nil {
		return err
	}
	if acc == nil {
		if err := domain.CheckStored(amount); err != nil {
			return fmt.Errorf("credit %s/%s: %w", address, asset, err)
		}
		return t.db.Create(&domain.Account{Address: address, Asset: asset, Owner: owner, Amount: amount, Version: 1}).Error
	}
	if err := acc.Credit(amount); err != nil {
		return err
	}
	return t.saveAccount(acc)
}

// Transfer moves amount of asset between two addresses. authority must own
// the source account. The destination is opened for `to` when missing.
// A zero amount succeeds without touching either account.
func (t *Tx) Transfer(asset, from, to string, amount uint64, authority string) error {
	if amount == 0 {
		return nil
	}

	src, err := t.findAccount(from, asset)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("%w: %s/%s has no account", domain.ErrInsufficientFunds, from, asset)
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: %s does not own %s", domain.ErrUnauthorized, authority, from)
	}
	if err := src.Debit(amount); err != nil {
		return err
	}
	if err := t.saveAccount(src); err != nil {
		return err
	}

	// Credit re-reads, so a self-transfer lands on the debited version
	return t.Credit(to, asset, to, amount)
}

func (t *Tx) findAccount(address, asset string) (*domain.Account, error) {
	var acc domain.Account
	err := t.db.First(&acc, "address = ? AND asset = ?", address, asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (t *Tx) saveAccount(acc *domain.Account) error {
	now := time.Now()
	res := t.db.Model(&domain.Account{}).
		Where("address = ? AND asset = ? AND version = ?", acc.Address, acc.Asset, acc.Version).
		Updates(map[string]any{
			"amount":     acc.Amount,
			"version":    acc.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewContentionError("account/" + domain.AccountKey(acc.Address, acc.Asset))
	}
	acc.Version++
	acc.UpdatedAt = now
	return nil
}
