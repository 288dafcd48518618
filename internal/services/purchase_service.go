package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/aezcrib/backend/internal/apperrors"
	"github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
)

// PurchaseService orchestrates a worksheet purchase: validation, funds
// check, debit, transaction record, and ownership grant. The whole sequence
// runs inside one database transaction, so a failure after the debit rolls
// everything back and the caller can never observe a debit without its
// matching ownership row.
type PurchaseService struct {
	db      *sql.DB
	catalog *CatalogService
}

func NewPurchaseService(db *sql.DB, catalog *CatalogService) *PurchaseService {
	viper.SetDefault("worksheets.file_dir", "./files/worksheets")
	return &PurchaseService{db: db, catalog: catalog}
}

// PurchaseResult is the success payload of a committed purchase.
type PurchaseResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	TransactionID    string `json:"transaction_id"`
	RemainingCredits int64  `json:"remaining_credits"`
}

// Purchase buys a worksheet with credits. Declines (unavailable item,
// already owned, insufficient funds) are returned as typed errors with zero
// state mutation; storage failures surface as a generic internal error after
// the transaction has been rolled back.
func (s *PurchaseService) Purchase(ctx context.Context, accountID, worksheetID int64) (*PurchaseResult, error) {
	// A disconnecting client must not abandon the purchase mid-flight;
	// from here the operation runs to commit or rollback on its own.
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin purchase transaction: %w", err)
	}
	defer tx.Rollback()

	worksheet, err := s.catalog.getWorksheetTx(ctx, tx, worksheetID)
	if err != nil {
		return nil, fmt.Errorf("load worksheet %d: %w", worksheetID, err)
	}
	if worksheet == nil || !worksheet.Published || worksheet.Price <= 0 {
		return nil, apperrors.ErrItemUnavailable
	}

	var owned bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ownerships WHERE account_id = $1 AND worksheet_id = $2)",
		accountID, worksheetID).Scan(&owned)
	if err != nil {
		return nil, fmt.Errorf("ownership check: %w", err)
	}
	if owned {
		return nil, apperrors.ErrAlreadyOwned
	}

	// The row lock serializes concurrent purchases against the same
	// account, keeping the balance check and the debit one atomic unit.
	var balance int64
	err = tx.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("lock account %d: %w", accountID, err)
	}

	if balance < worksheet.Price {
		return nil, &apperrors.InsufficientFundsError{Required: worksheet.Price, Available: balance}
	}

	deducted, err := debitAccount(ctx, tx, accountID, worksheet.Price)
	if err != nil {
		return nil, fmt.Errorf("debit account %d: %w", accountID, err)
	}
	if !deducted {
		return nil, &apperrors.InsufficientFundsError{Required: worksheet.Price, Available: balance}
	}

	transaction := &models.Transaction{
		AccountID:   accountID,
		Kind:        models.KindPurchase,
		Amount:      worksheet.Price,
		WorksheetID: sql.NullInt64{Int64: worksheetID, Valid: true},
		Status:      models.StatusCompleted,
	}
	if err := insertTransaction(ctx, tx, transaction); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ownerships (account_id, worksheet_id, transaction_id, created_at)
		VALUES ($1, $2, $3, NOW())`,
		accountID, worksheetID, transaction.ID); err != nil {
		return nil, fmt.Errorf("grant ownership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purchase: %w", err)
	}

	remaining := balance - worksheet.Price
	log.Printf("[PURCHASE] Account %d purchased worksheet %d (%q) for %d credits, %d remaining",
		accountID, worksheetID, worksheet.Title, worksheet.Price, remaining)

	return &PurchaseResult{
		Success:          true,
		Message:          "Worksheet purchased successfully!",
		TransactionID:    transaction.ID,
		RemainingCredits: remaining,
	}, nil
}

// EligibilityResult is the dry-run answer to "could this account buy this
// worksheet right now".
type EligibilityResult struct {
	Success           bool  `json:"success"`
	CanPurchase       bool  `json:"can_purchase"`
	AlreadyOwned      bool  `json:"already_owned"`
	Price             int64 `json:"price"`
	UserCredits       int64 `json:"user_credits"`
	SufficientCredits bool  `json:"sufficient_credits"`
}

// CheckEligibility runs the purchase preconditions without mutating
// anything, so the storefront can render the buy button state up front.
func (s *PurchaseService) CheckEligibility(ctx context.Context, accountID, worksheetID int64) (*EligibilityResult, error) {
	worksheet, err := s.catalog.GetWorksheet(ctx, worksheetID)
	if err != nil {
		return nil, fmt.Errorf("load worksheet %d: %w", worksheetID, err)
	}
	if worksheet == nil || !worksheet.Published || worksheet.Price <= 0 {
		return nil, apperrors.ErrItemUnavailable
	}

	owned, err := s.OwnsWorksheet(ctx, accountID, worksheetID)
	if err != nil {
		return nil, fmt.Errorf("ownership check: %w", err)
	}

	var balance int64
	err = s.db.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = $1", accountID).Scan(&balance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("balance query: %w", err)
	}

	sufficient := balance >= worksheet.Price
	return &EligibilityResult{
		Success:           true,
		CanPurchase:       !owned && sufficient,
		AlreadyOwned:      owned,
		Price:             worksheet.Price,
		UserCredits:       balance,
		SufficientCredits: sufficient,
	}, nil
}

// OwnsWorksheet reports whether the account holds an entitlement.
func (s *PurchaseService) OwnsWorksheet(ctx context.Context, accountID, worksheetID int64) (bool, error) {
	var owned bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ownerships WHERE account_id = $1 AND worksheet_id = $2)",
		accountID, worksheetID).Scan(&owned)
	return owned, err
}

// ListOwnedWorksheets returns the account's purchased worksheets, newest
// purchase first. Worksheets later unpublished stay listed; the entitlement
// outlives the listing.
func (s *PurchaseService) ListOwnedWorksheets(ctx context.Context, accountID int64) ([]models.OwnedWorksheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.title, w.subject, w.level, o.created_at, t.amount
		FROM ownerships o
		JOIN worksheets w ON w.id = o.worksheet_id
		JOIN transactions t ON t.id = o.transaction_id
		WHERE o.account_id = $1
		ORDER BY o.created_at DESC, w.id DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owned []models.OwnedWorksheet
	for rows.Next() {
		var ow models.OwnedWorksheet
		if err := rows.Scan(&ow.ID, &ow.Title, &ow.Subject, &ow.Level, &ow.PurchaseDate, &ow.Price); err != nil {
			return nil, err
		}
		ow.DownloadURL = fmt.Sprintf("/api/v1/worksheets/%d/download", ow.ID)
		ow.ThumbnailURL = fmt.Sprintf("/static/worksheet-thumbnails/%d.png", ow.ID)
		owned = append(owned, ow)
	}
	return owned, rows.Err()
}

// PurchaseWorksheet handles POST /worksheets/{worksheetID}/purchase.
func (s *PurchaseService) PurchaseWorksheet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	worksheetID, err := strconv.ParseInt(chi.URLParam(r, "worksheetID"), 10, 64)
	if err != nil || worksheetID <= 0 {
		SendErrorResponse(w, "Invalid worksheet ID", http.StatusBadRequest, nil)
		return
	}

	result, err := s.Purchase(r.Context(), accountID, worksheetID)
	if err != nil {
		writePurchaseDecline(w, accountID, worksheetID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writePurchaseDecline(w http.ResponseWriter, accountID, worksheetID int64, err error) {
	var funds *apperrors.InsufficientFundsError
	if errors.As(err, &funds) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:     fmt.Sprintf("Insufficient credits. You need %d but only have %d.", funds.Required, funds.Available),
			Code:      string(apperrors.InsufficientFunds),
			Required:  funds.Required,
			Available: funds.Available,
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusBadRequest
		if appErr.Code == apperrors.ItemUnavailable {
			status = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(ErrorResponse{Error: appErr.Message, Code: string(appErr.Code)})
		return
	}

	// Storage failure: the transaction already rolled back, so the balance
	// is untouched. Full detail stays in the log.
	log.Printf("[PURCHASE] Internal failure for account %d, worksheet %d: %v", accountID, worksheetID, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: "Purchase could not be completed. You have not been charged.",
		Code:  string(apperrors.InternalError),
	})
}

// GetPurchaseEligibility handles GET /worksheets/{worksheetID}/eligibility.
func (s *PurchaseService) GetPurchaseEligibility(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	worksheetID, err := strconv.ParseInt(chi.URLParam(r, "worksheetID"), 10, 64)
	if err != nil || worksheetID <= 0 {
		SendErrorResponse(w, "Invalid worksheet ID", http.StatusBadRequest, nil)
		return
	}

	result, err := s.CheckEligibility(r.Context(), accountID, worksheetID)
	if err != nil {
		if errors.Is(err, apperrors.ErrItemUnavailable) {
			SendErrorResponse(w, "Worksheet not available", http.StatusNotFound, nil)
			return
		}
		log.Printf("[PURCHASE] Eligibility check failed for account %d, worksheet %d: %v", accountID, worksheetID, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetOwnedWorksheets handles GET /worksheets/owned.
func (s *PurchaseService) GetOwnedWorksheets(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	worksheets, err := s.ListOwnedWorksheets(r.Context(), accountID)
	if err != nil {
		log.Printf("[PURCHASE] Owned listing failed for account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch worksheets", http.StatusInternalServerError, nil)
		return
	}

	if worksheets == nil {
		worksheets = []models.OwnedWorksheet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"worksheets": worksheets,
		"count":      len(worksheets),
	})
}

// DownloadWorksheet serves the worksheet file to its owner.
func (s *PurchaseService) DownloadWorksheet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	worksheetID, err := strconv.ParseInt(chi.URLParam(r, "worksheetID"), 10, 64)
	if err != nil || worksheetID <= 0 {
		SendErrorResponse(w, "Invalid worksheet ID", http.StatusBadRequest, nil)
		return
	}

	owned, err := s.OwnsWorksheet(r.Context(), accountID, worksheetID)
	if err != nil {
		log.Printf("[PURCHASE] Ownership check failed for account %d, worksheet %d: %v", accountID, worksheetID, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}
	if !owned {
		SendErrorResponse(w, "You do not own this worksheet", http.StatusForbidden, nil)
		return
	}

	worksheet, err := s.catalog.GetWorksheet(r.Context(), worksheetID)
	if err != nil || worksheet == nil || worksheet.FilePath == "" {
		SendErrorResponse(w, "Worksheet file not found", http.StatusNotFound, nil)
		return
	}

	dir := viper.GetString("worksheets.file_dir")
	path := filepath.Join(dir, filepath.Clean("/"+worksheet.FilePath))

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
