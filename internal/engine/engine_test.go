package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"comptoir/internal/custody"
	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra"
	"comptoir/internal/infra/storage"
	"comptoir/internal/oracle"
)

const (
	testMint     = "mint-aury-1"
	testVerifier = "verifier"
	testSeller   = "seller"
	testBuyer    = "buyer"
	testProceeds = "seller-proceeds"
	testTreasury = "treasury"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *storage.Storage
	oracle     *oracle.Static
	engine     *Engine
	events     *recorder
	metrics    *infra.Metrics
	market     *domain.Marketplace
	collection *domain.Collection
}

// newFixture builds a marketplace charging 250 bps with one collection whose
// items pay a 500 bps royalty to a single creator.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "engine.db"), storage.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		oracle:  oracle.NewStatic(),
		events:  &recorder{},
		metrics: &infra.Metrics{},
	}
	f.engine = New(store, f.oracle, custody.NewDeriver("test-secret"), f.events, f.metrics)

	f.oracle.Put(domain.ItemMetadata{
		Mint:       testMint,
		Symbol:     "AURY",
		RoyaltyBps: 500,
		Creators:   []domain.Creator{{Address: testVerifier, Share: 100, Verified: true}},
	})

	f.market, err = f.engine.CreateMarketplace(f.ctx, MarketplaceParams{
		Authority:          "auth",
		FeeBps:             250,
		FeeDestination:     testTreasury,
		SettlementCurrency: domain.NativeCurrency,
	})
	if err != nil {
		t.Fatalf("CreateMarketplace failed: %v", err)
	}
	f.collection, err = f.engine.CreateCollection(f.ctx, "auth", CollectionParams{
		Marketplace:      f.market.ID,
		Symbol:           "AURY",
		RequiredVerifier: testVerifier,
	})
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	f.credit(testSeller, testMint, 10)
	f.credit(testBuyer, domain.NativeCurrency, 10_000)
	return f
}

func (f *fixture) credit(address, asset string, amount uint64) {
	f.t.Helper()
	err := f.store.Atomic(f.ctx, func(tx *storage.Tx) error {
		return tx.Credit(address, asset, address, amount)
	})
	if err != nil {
		f.t.Fatalf("Credit failed: %v", err)
	}
}

func (f *fixture) balance(address, asset string) uint64 {
	f.t.Helper()
	b, err := f.store.View(f.ctx).Balance(address, asset)
	if err != nil {
		f.t.Fatalf("Balance failed: %v", err)
	}
	return b
}

func (f *fixture) vaultBalance() uint64 {
	return f.balance(f.engine.Deriver().Vault(f.market.ID, testMint), testMint)
}

func (f *fixture) escrowBalance(currency string) uint64 {
	return f.balance(f.engine.Deriver().Escrow(f.market.ID, currency), currency)
}

func (f *fixture) list(price, quantity uint64) *domain.SellOrder {
	f.t.Helper()
	order, err := f.engine.CreateSellOrder(f.ctx, ListRequest{
		Marketplace:       f.market.ID,
		Collection:        f.collection.ID,
		Seller:            testSeller,
		AssetMint:         testMint,
		Price:             price,
		Quantity:          quantity,
		PayoutDestination: testProceeds,
	})
	if err != nil {
		f.t.Fatalf("CreateSellOrder failed: %v", err)
	}
	return order
}

func (f *fixture) quantity(orderID string) uint64 {
	f.t.Helper()
	o, err := f.store.View(f.ctx).FindSellOrder(orderID)
	if err != nil {
		f.t.Fatalf("FindSellOrder failed: %v", err)
	}
	if o == nil {
		return 0
	}
	return o.Quantity
}

func (f *fixture) buyRequest(ask uint64, orders ...*domain.SellOrder) BuyRequest {
	entries := []domain.Entry{domain.CreatorPayoutEntry(testVerifier)}
	for _, o := range orders {
		entries = append(entries, domain.SellOrderFillEntry(o.ID, o.PayoutDestination))
	}
	return BuyRequest{
		Marketplace: f.market.ID,
		Collection:  f.collection.ID,
		Buyer:       testBuyer,
		AssetMint:   testMint,
		AskQuantity: ask,
		Entries:     entries,
	}
}

// settleIn switches the marketplace to a token currency and funds the
// buyer's token account with amount.
func (f *fixture) settleIn(currency string, amount uint64) {
	f.t.Helper()
	_, err := f.engine.UpdateMarketplace(f.ctx, f.market.ID, "auth", MarketplaceUpdate{
		SettlementCurrency: str(currency),
		FeeDestination:     str(testTreasury),
	})
	if err != nil {
		f.t.Fatalf("UpdateMarketplace failed: %v", err)
	}
	buyerTokens := f.engine.Deriver().TokenAccount(testBuyer, currency)
	err = f.store.Atomic(f.ctx, func(tx *storage.Tx) error {
		return tx.Credit(buyerTokens, currency, testBuyer, amount)
	})
	if err != nil {
		f.t.Fatalf("Credit failed: %v", err)
	}
}

// owned asserts address holds amount of asset and belongs to owner.
func (f *fixture) owned(address, asset, owner string, amount uint64) {
	f.t.Helper()
	acc, err := f.store.View(f.ctx).Account(address, asset)
	if err != nil {
		f.t.Fatalf("Account failed: %v", err)
	}
	if acc == nil || acc.Owner != owner || acc.Amount != amount {
		f.t.Errorf("Expected %s to hold %d owned by %s, got %+v", address, amount, owner, acc)
	}
}
