package domain

import "math/bits"

const (
	// FeeBasis is the denominator for marketplace and collection fees (basis points).
	FeeBasis uint64 = 10000
	// RoyaltyBasis is the denominator for the creator royalty (basis points).
	RoyaltyBasis uint64 = 10000
	// CreatorShareBasis is the denominator for a creator's slice of the royalty (percent).
	CreatorShareBasis uint64 = 100

	// MaxFeeBps is the upper bound of any configured fee.
	MaxFeeBps uint16 = 10000
)

// ShareOf returns floor(amount * shareBps / basis).
// The product is accumulated in 128 bits, so only a quotient that does not
// fit 64 bits (or a zero basis) fails.
func ShareOf(amount uint64, shareBps uint16, basis uint64) (uint64, error) {
	if basis == 0 {
		return 0, ErrArithmeticOverflow
	}
	hi, lo := bits.Mul64(amount, uint64(shareBps))
	if hi >= basis {
		return 0, ErrArithmeticOverflow
	}
	quo, _ := bits.Div64(hi, lo, basis)
	return quo, nil
}

// CreatorPayout is one creator's slice of a royalty.
type CreatorPayout struct {
	Creator     string `json:"creator"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

// Split is the three-way division of a trade total.
// Seller + Marketplace + sum(Creators[i].Amount) == Total always holds:
// rounding remainders of the creator slices stay with the seller.
type Split struct {
	Total         uint64          `json:"total"`
	CreatorsShare uint64          `json:"creators_share"`
	Marketplace   uint64          `json:"marketplace"`
	Seller        uint64          `json:"seller"`
	Creators      []CreatorPayout `json:"creators,omitempty"`
}

// RoyaltyTerms describes how the royalty part of a trade is computed.
// Destinations must already be validated and line up with Creators.
type RoyaltyTerms struct {
	Apply        bool
	RoyaltyBps   uint16
	Creators     []Creator
	Destinations []string
}

// ComputeSplit divides total into creator, marketplace and seller shares.
func ComputeSplit(total uint64, feeBps uint16, royalty RoyaltyTerms) (Split, error) {
	split := Split{Total: total}

	if royalty.Apply {
		share, err := ShareOf(total, royalty.RoyaltyBps, RoyaltyBasis)
		if err != nil {
			return Split{}, err
		}
		split.CreatorsShare = share
	}

	marketplace, err := ShareOf(total, feeBps, FeeBasis)
	if err != nil {
		return Split{}, err
	}
	split.Marketplace = marketplace

	var distributed uint64
	if royalty.Apply {
		split.Creators = make([]CreatorPayout, 0, len(royalty.Creators))
		for i, c := range royalty.Creators {
			amount, err := ShareOf(split.CreatorsShare, uint16(c.Share), CreatorShareBasis)
			if err != nil {
				return Split{}, err
			}
			if distributed, err = CheckedAdd(distributed, amount); err != nil {
				return Split{}, err
			}
			split.Creators = append(split.Creators, CreatorPayout{
				Creator:     c.Address,
				Destination: royalty.Destinations[i],
				Amount:      amount,
			})
		}
		if distributed > split.CreatorsShare {
			// creator shares summing above 100%
			return Split{}, ErrArithmeticOverflow
		}
	}

	seller, err := CheckedSub(total, split.CreatorsShare)
	if err != nil {
		return Split{}, err
	}
	if seller, err = CheckedSub(seller, split.Marketplace); err != nil {
		return Split{}, err
	}
	if royalty.Apply {
		// undistributed royalty dust goes back to the seller
		seller += split.CreatorsShare - distributed
	}
	split.Seller = seller
	return split, nil
}
