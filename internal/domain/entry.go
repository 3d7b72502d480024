package domain

// EntryKind tags a batch entry of a buy request.
type EntryKind int

const (
	EntryCreatorPayout EntryKind = iota + 1
	EntrySellOrderFill
)

// String returns the string representation of EntryKind
func (k EntryKind) String() string {
	switch k {
	case EntryCreatorPayout:
		return "CREATOR_PAYOUT"
	case EntrySellOrderFill:
		return "SELL_ORDER_FILL"
	default:
		return "UNKNOWN"
	}
}

// Entry is one element of the ordered batch a buyer submits.
//
// The batch is consumed positionally: first one CreatorPayout per declared
// creator (only when royalties apply), then SellOrderFill entries, each
// naming a sell order and the seller payout destination the buyer expects.
// A fill that does not resolve as a live order is skipped.
type Entry struct {
	Kind        EntryKind `json:"kind"`
	SellOrderID string    `json:"sell_order_id,omitempty"`
	Destination string    `json:"destination"`
}

// CreatorPayoutEntry builds a creator-destination prefix entry.
func CreatorPayoutEntry(destination string) Entry {
	return Entry{Kind: EntryCreatorPayout, Destination: destination}
}

// SellOrderFillEntry builds a (sell order, payout destination) pair.
func SellOrderFillEntry(sellOrderID, destination string) Entry {
	return Entry{Kind: EntrySellOrderFill, SellOrderID: sellOrderID, Destination: destination}
}
