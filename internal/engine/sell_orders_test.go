package engine

import (
	"errors"
	"testing"

	"comptoir/internal/domain"
	"comptoir/internal/event"
)

func TestSellOrder_ListUnlistRoundTrip(t *testing.T) {
	f := newFixture(t)

	order := f.list(100, 10)
	if f.balance(testSeller, testMint) != 0 || f.vaultBalance() != 10 {
		t.Fatalf("Expected units in vault, seller %d vault %d", f.balance(testSeller, testMint), f.vaultBalance())
	}

	t.Run("unlist more than owned", func(t *testing.T) {
		_, err := f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 11})
		if !errors.Is(err, domain.ErrUnlistMoreThanOwned) {
			t.Errorf("Expected ErrUnlistMoreThanOwned, got %v", err)
		}
		if q := f.quantity(order.ID); q != 10 {
			t.Errorf("Expected quantity unchanged at 10, got %d", q)
		}
	})

	t.Run("not the lister", func(t *testing.T) {
		_, err := f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testBuyer, Delta: 1})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("zero delta is a no-op", func(t *testing.T) {
		if _, err := f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller}); err != nil {
			t.Fatalf("RemoveQuantity failed: %v", err)
		}
		if q := f.quantity(order.ID); q != 10 {
			t.Errorf("Expected quantity 10, got %d", q)
		}
	})

	t.Run("partial then full unlist", func(t *testing.T) {
		o, err := f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 4})
		if err != nil || o.Quantity != 6 {
			t.Fatalf("Expected quantity 6, got %v (%v)", o, err)
		}
		if _, err := f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 6}); err != nil {
			t.Fatalf("RemoveQuantity failed: %v", err)
		}

		if f.balance(testSeller, testMint) != 10 || f.vaultBalance() != 0 {
			t.Errorf("Expected all 10 units back, seller %d vault %d", f.balance(testSeller, testMint), f.vaultBalance())
		}
		if _, err := f.store.View(f.ctx).GetSellOrder(order.ID); !errors.Is(err, domain.ErrNotInitialized) {
			t.Errorf("Expected order destroyed, got %v", err)
		}
	})
}

func TestSellOrder_AddQuantity(t *testing.T) {
	f := newFixture(t)
	order := f.list(100, 4)

	o, err := f.engine.AddQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 3})
	if err != nil {
		t.Fatalf("AddQuantity failed: %v", err)
	}
	if o.Quantity != 7 || f.vaultBalance() != 7 || f.balance(testSeller, testMint) != 3 {
		t.Errorf("Expected 7 listed and 3 held, got %d/%d/%d", o.Quantity, f.vaultBalance(), f.balance(testSeller, testMint))
	}

	_, err = f.engine.AddQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 4})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	if q := f.quantity(order.ID); q != 7 {
		t.Errorf("Failed add must not change quantity, got %d", q)
	}
}

func TestSellOrder_CreateRejections(t *testing.T) {
	f := newFixture(t)

	t.Run("zero quantity", func(t *testing.T) {
		_, err := f.engine.CreateSellOrder(f.ctx, ListRequest{Marketplace: f.market.ID, Collection: f.collection.ID, Seller: testSeller, AssetMint: testMint, Price: 1})
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("Expected ErrInvalidQuantity, got %v", err)
		}
	})

	t.Run("item outside collection", func(t *testing.T) {
		f.oracle.Put(domain.ItemMetadata{Mint: "fake", Symbol: "AURY", Creators: []domain.Creator{{Address: "impostor", Share: 100, Verified: true}}})
		f.credit(testSeller, "fake", 1)

		_, err := f.engine.CreateSellOrder(f.ctx, ListRequest{Marketplace: f.market.ID, Collection: f.collection.ID, Seller: testSeller, AssetMint: "fake", Price: 1, Quantity: 1})
		if !errors.Is(err, domain.ErrAuthenticityCheckFailed) {
			t.Errorf("Expected ErrAuthenticityCheckFailed, got %v", err)
		}
		if f.balance(testSeller, "fake") != 1 {
			t.Error("Rejected listing must not move units")
		}
	})

	t.Run("unknown mint", func(t *testing.T) {
		_, err := f.engine.CreateSellOrder(f.ctx, ListRequest{Marketplace: f.market.ID, Collection: f.collection.ID, Seller: testSeller, AssetMint: "ghost", Price: 1, Quantity: 1})
		if !errors.Is(err, domain.ErrAuthenticityCheckFailed) {
			t.Errorf("Expected ErrAuthenticityCheckFailed, got %v", err)
		}
	})

	t.Run("more than held", func(t *testing.T) {
		_, err := f.engine.CreateSellOrder(f.ctx, ListRequest{Marketplace: f.market.ID, Collection: f.collection.ID, Seller: testSeller, AssetMint: testMint, Price: 1, Quantity: 11})
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Errorf("Expected ErrInsufficientFunds, got %v", err)
		}
		if orders, _ := f.store.View(f.ctx).ListSellOrders(f.market.ID, testMint); len(orders) != 0 {
			t.Errorf("Rejected listing must not leave an order, got %d", len(orders))
		}
	})

	t.Run("price beyond stored range", func(t *testing.T) {
		_, err := f.engine.CreateSellOrder(f.ctx, ListRequest{Marketplace: f.market.ID, Collection: f.collection.ID, Seller: testSeller, AssetMint: testMint, Price: domain.MaxStored + 1, Quantity: 1})
		if !errors.Is(err, domain.ErrArithmeticOverflow) {
			t.Errorf("Expected ErrArithmeticOverflow, got %v", err)
		}
		if f.balance(testSeller, testMint) != 10 {
			t.Error("Rejected listing must not move units")
		}
	})

	if got := f.metrics.Snapshot().Rejections; got != 5 {
		t.Errorf("Expected 5 rejections, got %d", got)
	}
}

func TestSellOrder_Events(t *testing.T) {
	f := newFixture(t)
	order := f.list(100, 2)
	f.engine.AddQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 1})
	f.engine.RemoveQuantity(f.ctx, AdjustRequest{SellOrder: order.ID, Signer: testSeller, Delta: 3})

	want := []event.Type{event.TypeSellOrderCreated, event.TypeSellOrderQuantityAdded, event.TypeSellOrderRemoved}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	persisted, err := f.store.View(f.ctx).EventsAfter(0, 0)
	if err != nil || len(persisted) != 3 {
		t.Fatalf("Expected 3 persisted events, got %d (%v)", len(persisted), err)
	}
	if persisted[2].Seq != f.events.events[2].Seq {
		t.Errorf("Published seq %d does not match persisted %d", f.events.events[2].Seq, persisted[2].Seq)
	}
}
