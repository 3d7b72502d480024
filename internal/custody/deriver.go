package custody

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"

	"comptoir/internal/domain"

	"github.com/decred/base58"
)

// Derivation namespaces. Changing one moves every address derived under it.
const (
	nsMarketplace = "comptoir"
	nsCollection  = "collection"
	nsSellOrder   = "sell_order"
	nsBuyOffer    = "buy_offer"
	nsVault       = "vault"
	nsEscrow      = "escrow"
	nsToken       = "token_account"
)

// Proof is a capability to move funds out of one custody slot.
// Knowing a slot address does not grant access; only the deriver holding
// the secret can produce a Tag that verifies.
type Proof struct {
	Address string
	Tag     string
}

// Deriver computes deterministic addresses for records and custody slots,
// and signs custody proofs.
type Deriver struct {
	secret []byte
}

// NewDeriver creates a deriver. An empty secret is rejected by config validation.
func NewDeriver(secret string) *Deriver {
	return &Deriver{secret: []byte(secret)}
}

// derive returns base58(sha256(namespace || len(seed) || seed ...)).
// Length prefixes keep ("ab","c") and ("a","bc") apart.
func derive(namespace string, seeds ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	var n [4]byte
	for _, s := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return base58.Encode(h.Sum(nil))
}

func (d *Deriver) Marketplace(authority string) string {
	return derive(nsMarketplace, authority)
}

func (d *Deriver) Collection(marketplace, symbol string) string {
	return derive(nsCollection, marketplace, symbol)
}

// SellOrder is keyed by the seller's item source, the mint and the unit
// price, so one seller may list the same asset at several prices.
func (d *Deriver) SellOrder(itemSource, mint string, price uint64) string {
	return derive(nsSellOrder, itemSource, mint, strconv.FormatUint(price, 10))
}

func (d *Deriver) BuyOffer(marketplace, buyer, mint string, price uint64) string {
	return derive(nsBuyOffer, marketplace, buyer, mint, strconv.FormatUint(price, 10))
}

// Vault is the custody slot holding listed units of mint.
func (d *Deriver) Vault(marketplace, mint string) string {
	return derive(nsVault, marketplace, mint)
}

// Escrow is the custody slot holding offer funds in currency.
func (d *Deriver) Escrow(marketplace, currency string) string {
	return derive(nsEscrow, marketplace, currency)
}

// TokenAccount is the associated account of owner for a non-native currency.
func (d *Deriver) TokenAccount(owner, currency string) string {
	return derive(nsToken, owner, currency)
}

// PayoutAccount is where owner receives currency: the owner key itself for
// the native currency, its token account otherwise.
func (d *Deriver) PayoutAccount(owner, currency string) string {
	if currency == domain.NativeCurrency {
		return owner
	}
	return d.TokenAccount(owner, currency)
}

// Authorize signs a proof for the given slot address.
func (d *Deriver) Authorize(address string) Proof {
	return Proof{Address: address, Tag: d.sign(address)}
}

// Verify checks that p was issued by this deriver for expected.
func (d *Deriver) Verify(expected string, p Proof) error {
	if p.Address != expected {
		return fmt.Errorf("%w: proof for %s, slot is %s", domain.ErrUnauthorizedCustody, p.Address, expected)
	}
	want := d.sign(expected)
	if !hmac.Equal([]byte(want), []byte(p.Tag)) {
		return fmt.Errorf("%w: bad tag for %s", domain.ErrUnauthorizedCustody, expected)
	}
	return nil
}

func (d *Deriver) sign(address string) string {
	h := hmac.New(sha256.New, d.secret)
	h.Write([]byte(address))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
