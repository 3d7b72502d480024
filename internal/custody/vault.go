package custody

import "fmt"

// Ledger is the currency-transfer rail custody slots move balances on.
type Ledger interface {
	Transfer(asset, from, to string, amount uint64, authority string) error
}

// Vault holds listed item units, one slot per (marketplace, mint).
type Vault struct {
	deriver *Deriver
}

func NewVault(d *Deriver) *Vault {
	return &Vault{deriver: d}
}

// Address returns the slot for mint in marketplace.
func (v *Vault) Address(marketplace, mint string) string {
	return v.deriver.Vault(marketplace, mint)
}

// Deposit moves quantity units of mint from an account authority owns into the vault.
func (v *Vault) Deposit(l Ledger, marketplace, mint, from, authority string, quantity uint64) error {
	if err := l.Transfer(mint, from, v.Address(marketplace, mint), quantity, authority); err != nil {
		return fmt.Errorf("vault deposit: %w", err)
	}
	return nil
}

// Withdraw releases quantity units to `to`. The proof must be for this slot.
func (v *Vault) Withdraw(l Ledger, marketplace, mint, to string, quantity uint64, proof Proof) error {
	slot := v.Address(marketplace, mint)
	if err := v.deriver.Verify(slot, proof); err != nil {
		return err
	}
	if err := l.Transfer(mint, slot, to, quantity, slot); err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}
	return nil
}

// Escrow holds buy-offer funds, one slot per (marketplace, currency).
type Escrow struct {
	deriver *Deriver
}

func NewEscrow(d *Deriver) *Escrow {
	return &Escrow{deriver: d}
}

// Address returns the slot for currency in marketplace.
func (e *Escrow) Address(marketplace, currency string) string {
	return e.deriver.Escrow(marketplace, currency)
}

// Deposit moves amount of currency from an account authority owns into escrow.
func (e *Escrow) Deposit(l Ledger, marketplace, currency, from, authority string, amount uint64) error {
	if err := l.Transfer(currency, from, e.Address(marketplace, currency), amount, authority); err != nil {
		return fmt.Errorf("escrow deposit: %w", err)
	}
	return nil
}

// Withdraw pays amount out of escrow to `to`. The proof must be for this slot.
func (e *Escrow) Withdraw(l Ledger, marketplace, currency, to string, amount uint64, proof Proof) error {
	slot := e.Address(marketplace, currency)
	if err := e.deriver.Verify(slot, proof); err != nil {
		return err
	}
	if err := l.Transfer(currency, slot, to, amount, slot); err != nil {
		return fmt.Errorf("escrow withdraw: %w", err)
	}
	return nil
}
