package domain

import "context"

// MetadataOracle resolves the collection and royalty metadata of an asset.
type MetadataOracle interface {
	Lookup(ctx context.Context, mint string) (*ItemMetadata, error)
}
