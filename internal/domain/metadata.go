package domain

// Creator is a declared creator of an item with its percentage of the royalty.
type Creator struct {
	Address  string `json:"address" yaml:"address"`
	Share    uint8  `json:"share" yaml:"share"` // Percent of the royalty
	Verified bool   `json:"verified" yaml:"verified"`
}

// ItemMetadata is what the metadata oracle reports for an asset.
type ItemMetadata struct {
	Mint       string    `json:"mint" yaml:"mint"`
	Symbol     string    `json:"symbol" yaml:"symbol"`
	RoyaltyBps uint16    `json:"seller_fee_basis_points" yaml:"seller_fee_basis_points"`
	Creators   []Creator `json:"creators" yaml:"creators"`
}
