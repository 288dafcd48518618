package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aezcrib/backend/internal/models"
)

const worksheetColumns = "id, title, subject, level, price, published, file_path, created_at"

// CatalogService is the read-only view of purchasable worksheets. Content
// authoring and publication live in a separate system; nothing here mutates
// the catalog.
type CatalogService struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{db: db}
}

// GetWorksheet returns the worksheet or nil when it does not exist.
func (s *CatalogService) GetWorksheet(ctx context.Context, worksheetID int64) (*models.Worksheet, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+worksheetColumns+" FROM worksheets WHERE id = $1", worksheetID)
	return scanWorksheet(row)
}

// getWorksheetTx is the in-transaction variant used by the purchase engine
// so the availability check and the debit see the same snapshot.
func (s *CatalogService) getWorksheetTx(ctx context.Context, tx *sql.Tx, worksheetID int64) (*models.Worksheet, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+worksheetColumns+" FROM worksheets WHERE id = $1", worksheetID)
	return scanWorksheet(row)
}

func scanWorksheet(row *sql.Row) (*models.Worksheet, error) {
	var ws models.Worksheet
	err := row.Scan(&ws.ID, &ws.Title, &ws.Subject, &ws.Level, &ws.Price, &ws.Published, &ws.FilePath, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}
