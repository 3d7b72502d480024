package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// Activity is the live trading summary of one mint, rebuilt from events.
type Activity struct {
	Mint       string           `json:"mint"`
	Listed     uint64           `json:"listed"` // Units across live sell orders
	Floor      uint64           `json:"floor"`  // Lowest live unit price, 0 when nothing is listed
	OpenOffers int              `json:"open_offers"`
	BestOffer  uint64           `json:"best_offer"`
	Sales      uint64           `json:"sales"`
	Volume     uint64           `json:"volume"`
	LastPrice  uint64           `json:"last_price"`
	AvgPrice   *decimal.Decimal `json:"avg_price,omitempty"`
}

type orderState struct {
	marketplace string
	mint        string
	price       uint64
	quantity    uint64
}

type offerState struct {
	mint  string
	price uint64
}

// MarketService serves reads from storage and keeps a per-mint activity
// projection fed by the event dispatcher.
type MarketService struct {
	store *storage.Storage

	mu       sync.RWMutex
	activity map[string]*Activity
	orders   map[string]*orderState
	offers   map[string]*offerState
	lastSeq  uint64
	logger   *slog.Logger
}

// NewMarketService creates a new MarketService instance
func NewMarketService(store *storage.Storage) *MarketService {
	return &MarketService{
		store:    store,
		activity: make(map[string]*Activity),
		orders:   make(map[string]*orderState),
		offers:   make(map[string]*offerState),
		logger:   slog.Default().With("module", "market_service"),
	}
}

// ======================================================================================
// Reads
// ======================================================================================

func (s *MarketService) Marketplace(ctx context.Context, id string) (*domain.Marketplace, error) {
	return s.store.View(ctx).GetMarketplace(id)
}

func (s *MarketService) Marketplaces(ctx context.Context) ([]domain.Marketplace, error) {
	return s.store.View(ctx).ListMarketplaces()
}

func (s *MarketService) Collection(ctx context.Context, id string) (*domain.Collection, error) {
	return s.store.View(ctx).GetCollection(id)
}

func (s *MarketService) Collections(ctx context.Context, marketplaceID string) ([]domain.Collection, error) {
	return s.store.View(ctx).ListCollections(marketplaceID)
}

func (s *MarketService) SellOrder(ctx context.Context, id string) (*domain.SellOrder, error) {
	return s.store.View(ctx).GetSellOrder(id)
}

func (s *MarketService) BuyOffer(ctx context.Context, id string) (*domain.BuyOffer, error) {
	return s.store.View(ctx).GetBuyOffer(id)
}

// OrderBook returns live sell orders for mint, cheapest first.
func (s *MarketService) OrderBook(ctx context.Context, marketplaceID, mint string) ([]domain.SellOrder, error) {
	return s.store.View(ctx).ListSellOrders(marketplaceID, mint)
}

// Offers returns open buy offers for mint, highest first.
func (s *MarketService) Offers(ctx context.Context, marketplaceID, mint string) ([]domain.BuyOffer, error) {
	return s.store.View(ctx).ListBuyOffers(marketplaceID, mint)
}

// Accounts returns every ledger account owned by owner.
func (s *MarketService) Accounts(ctx context.Context, owner string) ([]domain.Account, error) {
	return s.store.View(ctx).Accounts(owner)
}

// Events returns persisted events with Seq > after.
func (s *MarketService) Events(ctx context.Context, after uint64, limit int) ([]event.Event, error) {
	return s.store.View(ctx).EventsAfter(after, limit)
}

// ======================================================================================
// Activity projection
// ======================================================================================

// GetAllActivity returns the activity of every mint sorted by mint
func (s *MarketService) GetAllActivity() []Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Activity, 0, len(s.activity))
	for _, a := range s.activity {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Mint < result[j].Mint
	})
	return result
}

// GetActivity returns a copy of the activity for mint, or nil.
func (s *MarketService) GetActivity(mint string) *Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activity[mint]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// LastSeq returns the highest event sequence applied.
func (s *MarketService) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Hydrate replays the persisted event log into the projection.
func (s *MarketService) Hydrate(ctx context.Context) error {
	const page = 500
	for {
		events, err := s.Events(ctx, s.LastSeq(), page)
		if err != nil {
			return err
		}
		for _, ev := range events {
			s.Apply(ev)
		}
		if len(events) < page {
			return nil
		}
	}
}

// StartEventProcessor applies events from ch until ctx is done or ch closes.
// A gap in Seq means the dispatcher dropped events; the log fills it.
func (s *MarketService) StartEventProcessor(ctx context.Context, ch <-chan event.Event) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if last := s.LastSeq(); ev.Seq > last+1 {
					s.logger.Warn("Sequence gap, replaying from log", slog.Uint64("last", last), slog.Uint64("got", ev.Seq))
					if err := s.Hydrate(ctx); err != nil {
						s.logger.Error("Failed to replay events", slog.Any("error", err))
					}
				}
				s.Apply(ev)
			}
		}
	}()
}

// Apply folds one event into the projection. Events at or below the last
// applied Seq are ignored, so live delivery and replay may overlap.
func (s *MarketService) Apply(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= s.lastSeq {
		return
	}

	switch ev.Type {
	case event.TypeSellOrderCreated:
		var p event.SellOrderCreated
		if decode(ev.Payload, &p) {
			s.orders[p.SellOrder] = &orderState{marketplace: p.Marketplace, mint: p.AssetMint, price: p.Price, quantity: p.Quantity}
			s.refreshBook(p.AssetMint)
		}
	case event.TypeSellOrderQuantityAdded:
		var p event.SellOrderQuantityAdded
		if decode(ev.Payload, &p) {
			if o, ok := s.orders[p.SellOrder]; ok {
				o.quantity = p.Quantity
				s.refreshBook(o.mint)
			}
		}
	case event.TypeSellOrderRemoved:
		var p event.SellOrderRemoved
		if decode(ev.Payload, &p) {
			if o, ok := s.orders[p.SellOrder]; ok {
				o.quantity -= min(o.quantity, p.QuantityToUnlist)
				if p.Closed {
					delete(s.orders, p.SellOrder)
				}
				s.refreshBook(o.mint)
			}
		}
	case event.TypeBuy:
		var p event.Buy
		if decode(ev.Payload, &p) {
			s.recordSale(p.AssetMint, p.AskQuantity, p.Total)
			s.syncFills(p.Marketplace, p.AssetMint)
		}
	case event.TypeBuyOfferCreated:
		var p event.BuyOfferCreated
		if decode(ev.Payload, &p) {
			s.offers[p.BuyOffer] = &offerState{mint: p.AssetMint, price: p.PriceProposition}
			s.refreshOffers(p.AssetMint)
		}
	case event.TypeBuyOfferRemoved:
		var p event.BuyOfferRemoved
		if decode(ev.Payload, &p) {
			s.dropOffer(p.BuyOffer)
		}
	case event.TypeOfferExecuted:
		var p event.OfferExecuted
		if decode(ev.Payload, &p) {
			if o, ok := s.offers[p.BuyOffer]; ok {
				s.recordSale(o.mint, 1, p.Price)
			}
			s.dropOffer(p.BuyOffer)
		}
	}

	if ev.Seq > s.lastSeq {
		s.lastSeq = ev.Seq
	}
}

// decode accepts a typed payload as published, or raw JSON as read back
// from the log.
func decode[T any](payload any, out *T) bool {
	switch p := payload.(type) {
	case T:
		*out = p
		return true
	case *T:
		*out = *p
		return true
	case json.RawMessage:
		return json.Unmarshal(p, out) == nil
	case []byte:
		return json.Unmarshal(p, out) == nil
	}
	return false
}

// Must be called with lock held
func (s *MarketService) entry(mint string) *Activity {
	a, ok := s.activity[mint]
	if !ok {
		a = &Activity{Mint: mint}
		s.activity[mint] = a
	}
	return a
}

// Must be called with lock held
func (s *MarketService) recordSale(mint string, units, total uint64) {
	a := s.entry(mint)
	a.Sales += units
	a.Volume += total
	if units > 0 {
		a.LastPrice = total / units
	}
	if a.Sales > 0 {
		avg := decimal.NewFromUint64(a.Volume).Div(decimal.NewFromUint64(a.Sales)).Round(2)
		a.AvgPrice = &avg
	}
}

// syncFills drops projected orders a buy consumed. Buy events carry only
// the total, so quantities are reloaded from storage.
// Must be called with lock held
func (s *MarketService) syncFills(marketplaceID, mint string) {
	live, err := s.store.View(context.Background()).ListSellOrders(marketplaceID, mint)
	if err != nil {
		s.logger.Error("Failed to reload order book", slog.String("mint", mint), slog.Any("error", err))
		return
	}
	seen := make(map[string]bool, len(live))
	for _, o := range live {
		seen[o.ID] = true
		s.orders[o.ID] = &orderState{marketplace: o.MarketplaceID, mint: o.AssetMint, price: o.Price, quantity: o.Quantity}
	}
	for id, o := range s.orders {
		if o.marketplace == marketplaceID && o.mint == mint && !seen[id] {
			delete(s.orders, id)
		}
	}
	s.refreshBook(mint)
}

// Must be called with lock held
func (s *MarketService) refreshBook(mint string) {
	a := s.entry(mint)
	a.Listed, a.Floor = 0, 0
	for _, o := range s.orders {
		if o.mint != mint || o.quantity == 0 {
			continue
		}
		a.Listed += o.quantity
		if a.Floor == 0 || o.price < a.Floor {
			a.Floor = o.price
		}
	}
}

// Must be called with lock held
func (s *MarketService) dropOffer(id string) {
	o, ok := s.offers[id]
	if !ok {
		return
	}
	delete(s.offers, id)
	s.refreshOffers(o.mint)
}

// Must be called with lock held
func (s *MarketService) refreshOffers(mint string) {
	a := s.entry(mint)
	a.OpenOffers, a.BestOffer = 0, 0
	for _, o := range s.offers {
		if o.mint != mint {
			continue
		}
		a.OpenOffers++
		if o.price > a.BestOffer {
			a.BestOffer = o.price
		}
	}
}
