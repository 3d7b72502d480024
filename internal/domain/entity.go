package domain

import (
	"time"
)

// CollectionIcon records the locally cached icon of a collection
type CollectionIcon struct {
	CollectionID string    `gorm:"primaryKey" json:"collection_id"`
	SourceURL    string    `json:"source_url"`
	IconPath     string    `json:"icon_path"`
	LastSyncedAt time.Time `json:"last_synced_at"` // Last icon sync time
	UpdatedAt    time.Time `json:"updated_at"`
}
