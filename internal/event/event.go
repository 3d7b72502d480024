package event

import "time"

// Type names a settlement event.
type Type string

const (
	TypeSellOrderCreated       Type = "SELL_ORDER_CREATED"
	TypeSellOrderQuantityAdded Type = "SELL_ORDER_QUANTITY_ADDED"
	TypeSellOrderRemoved       Type = "SELL_ORDER_REMOVED"
	TypeBuy                    Type = "BUY"
	TypeBuyOfferCreated        Type = "BUY_OFFER_CREATED"
	TypeBuyOfferRemoved        Type = "BUY_OFFER_REMOVED"
	TypeOfferExecuted          Type = "OFFER_EXECUTED"
)

// Event is a committed state change. Seq is assigned by storage and is
// strictly increasing in commit order of the writing transactions.
type Event struct {
	Seq     uint64    `json:"seq"`
	ID      string    `json:"id"`
	Type    Type      `json:"type"`
	Ts      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

type SellOrderCreated struct {
	SellOrder   string `json:"sell_order"`
	Marketplace string `json:"marketplace"`
	AssetMint   string `json:"asset_mint"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
}

type SellOrderQuantityAdded struct {
	SellOrder     string `json:"sell_order"`
	QuantityAdded uint64 `json:"quantity_added"`
	Quantity      uint64 `json:"quantity"`
}

type SellOrderRemoved struct {
	SellOrder        string `json:"sell_order"`
	QuantityToUnlist uint64 `json:"quantity_to_unlist"`
	Closed           bool   `json:"closed"`
}

type Buy struct {
	Buyer       string  `json:"buyer"`
	Marketplace string  `json:"marketplace"`
	Collection  string  `json:"collection"`
	AssetMint   string  `json:"asset_mint"`
	AskQuantity uint64  `json:"ask_quantity"`
	MaxPrice    *uint64 `json:"max_price,omitempty"`
	Fills       int     `json:"fills"`
	Total       uint64  `json:"total"`
}

type BuyOfferCreated struct {
	BuyOffer         string `json:"buy_offer"`
	AssetMint        string `json:"asset_mint"`
	PriceProposition uint64 `json:"price_proposition"`
}

type BuyOfferRemoved struct {
	BuyOffer string `json:"buy_offer"`
}

type OfferExecuted struct {
	BuyOffer string `json:"buy_offer"`
	Seller   string `json:"seller"`
	Price    uint64 `json:"price"`
}
