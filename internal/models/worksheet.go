package models

import (
	"time"
)

// Worksheet is a purchasable catalog item. The catalog is read-only from
// this service's point of view; content authoring happens elsewhere.
type Worksheet struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Subject   string    `json:"subject" db:"subject"`
	Level     string    `json:"level" db:"level"`
	Price     int64     `json:"price" db:"price"` // in credits
	Published bool      `json:"published" db:"published"`
	FilePath  string    `json:"-" db:"file_path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OwnedWorksheet is the owned-items listing shape: a worksheet joined with
// the purchase that granted it.
type OwnedWorksheet struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Subject      string    `json:"subject"`
	Level        string    `json:"level"`
	PurchaseDate time.Time `json:"purchase_date"`
	Price        int64     `json:"price"`
	DownloadURL  string    `json:"download_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
}
