package engine

import (
	"errors"
	"testing"

	"comptoir/internal/domain"
	"comptoir/internal/event"
)

func (f *fixture) offer(price uint64) *domain.BuyOffer {
	f.t.Helper()
	o, err := f.engine.CreateOffer(f.ctx, OfferRequest{
		Marketplace:   f.market.ID,
		Collection:    f.collection.ID,
		Buyer:         testBuyer,
		AssetMint:     testMint,
		ProposedPrice: price,
	})
	if err != nil {
		f.t.Fatalf("CreateOffer failed: %v", err)
	}
	return o
}

func (f *fixture) executeRequest(offerID string) ExecuteRequest {
	return ExecuteRequest{
		BuyOffer:               offerID,
		Collection:             f.collection.ID,
		Buyer:                  testBuyer,
		Seller:                 testSeller,
		SellerFundsDestination: testProceeds,
		CreatorDestinations:    []string{testVerifier},
	}
}

func TestOffer_CreateCancelRefundsExactly(t *testing.T) {
	f := newFixture(t)
	o := f.offer(700)

	if f.escrowBalance(domain.NativeCurrency) != 700 || f.balance(testBuyer, domain.NativeCurrency) != 9_300 {
		t.Fatalf("Expected 700 escrowed, escrow %d buyer %d", f.escrowBalance(domain.NativeCurrency), f.balance(testBuyer, domain.NativeCurrency))
	}

	t.Run("wrong signer", func(t *testing.T) {
		err := f.engine.CancelOffer(f.ctx, CancelRequest{BuyOffer: o.ID, Signer: testSeller})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
		if f.escrowBalance(domain.NativeCurrency) != 700 {
			t.Error("Escrow must be untouched")
		}
	})

	if err := f.engine.CancelOffer(f.ctx, CancelRequest{BuyOffer: o.ID, Signer: testBuyer}); err != nil {
		t.Fatalf("CancelOffer failed: %v", err)
	}
	if f.escrowBalance(domain.NativeCurrency) != 0 || f.balance(testBuyer, domain.NativeCurrency) != 10_000 {
		t.Errorf("Expected exact refund, escrow %d buyer %d", f.escrowBalance(domain.NativeCurrency), f.balance(testBuyer, domain.NativeCurrency))
	}
	if _, err := f.store.View(f.ctx).GetBuyOffer(o.ID); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("Expected offer destroyed, got %v", err)
	}

	snap := f.metrics.Snapshot()
	if snap.OffersCreated != 1 || snap.OffersCanceled != 1 {
		t.Errorf("Unexpected metrics %+v", snap)
	}
}

func TestOffer_ExecuteConservesValue(t *testing.T) {
	f := newFixture(t)
	o := f.offer(1_000)

	split, err := f.engine.ExecuteOffer(f.ctx, f.executeRequest(o.ID))
	if err != nil {
		t.Fatalf("ExecuteOffer failed: %v", err)
	}

	if split.Seller != 925 || split.Marketplace != 25 || split.CreatorsShare != 50 {
		t.Errorf("Expected 925/25/50, got %d/%d/%d", split.Seller, split.Marketplace, split.CreatorsShare)
	}
	paid := f.balance(testProceeds, domain.NativeCurrency) +
		f.balance(testTreasury, domain.NativeCurrency) +
		f.balance(testVerifier, domain.NativeCurrency)
	if paid != 1_000 {
		t.Errorf("Expected payouts to sum to 1000, got %d", paid)
	}
	if f.escrowBalance(domain.NativeCurrency) != 0 {
		t.Errorf("Expected empty escrow, got %d", f.escrowBalance(domain.NativeCurrency))
	}
	if f.balance(testBuyer, testMint) != 1 || f.balance(testSeller, testMint) != 9 {
		t.Errorf("Expected one unit moved, buyer %d seller %d", f.balance(testBuyer, testMint), f.balance(testSeller, testMint))
	}
	if _, err := f.store.View(f.ctx).GetBuyOffer(o.ID); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("Expected offer destroyed, got %v", err)
	}

	got := f.events.types()
	if got[len(got)-1] != event.TypeOfferExecuted {
		t.Errorf("Expected last event %s, got %s", event.TypeOfferExecuted, got[len(got)-1])
	}
	if snap := f.metrics.Snapshot(); snap.OffersExecuted != 1 || snap.Volume != 1_000 {
		t.Errorf("Unexpected metrics %+v", snap)
	}
}

func TestOffer_ExecuteRejections(t *testing.T) {
	f := newFixture(t)
	o := f.offer(1_000)

	tests := []struct {
		name   string
		mutate func(*ExecuteRequest)
		want   error
	}{
		{"executed for another buyer", func(r *ExecuteRequest) { r.Buyer = "mallory" }, domain.ErrUnauthorized},
		{"seller does not hold the item", func(r *ExecuteRequest) { r.Seller = "mallory"; r.SellerItemSource = "mallory" }, domain.ErrInsufficientFunds},
		{"seller signs for someone else's items", func(r *ExecuteRequest) { r.Seller = "mallory"; r.SellerItemSource = testSeller }, domain.ErrUnauthorized},
		{"creator destination mismatch", func(r *ExecuteRequest) { r.CreatorDestinations = []string{"attacker"} }, domain.ErrCreatorPayoutMismatch},
		{"missing creator destinations", func(r *ExecuteRequest) { r.CreatorDestinations = nil }, domain.ErrCreatorPayoutMismatch},
		{"unknown offer", func(r *ExecuteRequest) { r.BuyOffer = "ghost" }, domain.ErrNotInitialized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.executeRequest(o.ID)
			tt.mutate(&r)
			if _, err := f.engine.ExecuteOffer(f.ctx, r); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if f.escrowBalance(domain.NativeCurrency) != 1_000 || f.balance(testSeller, testMint) != 10 {
				t.Error("Rejected execution must not move funds or items")
			}
		})
	}
}

func TestOffer_CreateRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateOffer(f.ctx, OfferRequest{
		Marketplace: f.market.ID, Collection: f.collection.ID, Buyer: testBuyer,
		AssetMint: testMint, ProposedPrice: 10_001,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}
	id := f.engine.Deriver().BuyOffer(f.market.ID, testBuyer, testMint, 10_001)
	if _, err := f.store.View(f.ctx).GetBuyOffer(id); !errors.Is(err, domain.ErrNotInitialized) {
		t.Errorf("Failed offer must not persist, got %v", err)
	}

	f.offer(100)
	_, err = f.engine.CreateOffer(f.ctx, OfferRequest{
		Marketplace: f.market.ID, Collection: f.collection.ID, Buyer: testBuyer,
		AssetMint: testMint, ProposedPrice: 100,
	})
	if !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized for a duplicate offer, got %v", err)
	}
	if f.escrowBalance(domain.NativeCurrency) != 100 {
		t.Errorf("Duplicate offer must not escrow twice, got %d", f.escrowBalance(domain.NativeCurrency))
	}
}

func TestOffer_RefundUsesOfferCurrency(t *testing.T) {
	f := newFixture(t)
	o := f.offer(500)

	_, err := f.engine.UpdateMarketplace(f.ctx, f.market.ID, "auth", MarketplaceUpdate{
		SettlementCurrency: str("usdc"),
		FeeDestination:     str("treasury-usdc"),
	})
	if err != nil {
		t.Fatalf("UpdateMarketplace failed: %v", err)
	}

	if err := f.engine.CancelOffer(f.ctx, CancelRequest{BuyOffer: o.ID, Signer: testBuyer}); err != nil {
		t.Fatalf("CancelOffer failed: %v", err)
	}
	if f.balance(testBuyer, domain.NativeCurrency) != 10_000 {
		t.Errorf("Expected native refund, got %d", f.balance(testBuyer, domain.NativeCurrency))
	}
}

func TestOffer_TokenProceedsBelongToSeller(t *testing.T) {
	f := newFixture(t)
	f.settleIn("usdc", 1_000)
	d := f.engine.Deriver()
	proceeds := d.TokenAccount(testSeller, "usdc")

	o := f.offer(1_000)
	r := f.executeRequest(o.ID)
	r.SellerFundsDestination = ""
	r.CreatorDestinations = []string{d.TokenAccount(testVerifier, "usdc")}
	if _, err := f.engine.ExecuteOffer(f.ctx, r); err != nil {
		t.Fatalf("ExecuteOffer failed: %v", err)
	}

	f.owned(proceeds, "usdc", testSeller, 925)
	f.owned(testTreasury, "usdc", "auth", 25)

	t.Run("derived address cannot sign", func(t *testing.T) {
		_, err := f.engine.CreateOffer(f.ctx, OfferRequest{
			Marketplace: f.market.ID, Collection: f.collection.ID, Buyer: proceeds,
			PayingAccount: proceeds, AssetMint: testMint, ProposedPrice: 1,
		})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	_, err := f.engine.CreateOffer(f.ctx, OfferRequest{
		Marketplace: f.market.ID, Collection: f.collection.ID, Buyer: testSeller,
		AssetMint: testMint, ProposedPrice: 925,
	})
	if err != nil {
		t.Fatalf("Seller could not spend own proceeds: %v", err)
	}
	if f.balance(proceeds, "usdc") != 0 || f.escrowBalance("usdc") != 925 {
		t.Errorf("Expected proceeds escrowed, account %d escrow %d", f.balance(proceeds, "usdc"), f.escrowBalance("usdc"))
	}
}
