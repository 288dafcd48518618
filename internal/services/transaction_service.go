package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const transactionColumns = "id, account_id, kind, amount, real_amount, method, reference, worksheet_id, status, created_at"

// statsWindow caps how much history the single-pass aggregation reads.
const statsWindow = 1000

var (
	errInvalidTransition   = errors.New("invalid status transition")
	errTransactionNotFound = errors.New("transaction not found")
)

// TransactionService is the append-only audit log of balance-changing
// events. The only mutation it ever applies is the pending ->
// completed/failed transition on top-ups.
type TransactionService struct {
	db *sql.DB
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{db: db}
}

// Append writes a new transaction, assigning its id and timestamp.
func (s *TransactionService) Append(ctx context.Context, t *models.Transaction) error {
	return insertTransaction(ctx, s.db, t)
}

func insertTransaction(ctx context.Context, q sqlExecer, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, real_amount, method, reference, worksheet_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccountID, t.Kind, t.Amount, t.RealAmount, t.Method, t.Reference, t.WorksheetID, t.Status, t.CreatedAt)
	return err
}

// ListByAccount returns the account's transactions, newest first.
func (s *TransactionService) ListByAccount(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.RealAmount, &t.Method,
			&t.Reference, &t.WorksheetID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// TransactionStats is the aggregate view of an account's history.
type TransactionStats struct {
	TotalToppedUp          int64           `json:"total_topped_up"`
	TotalSpent             int64           `json:"total_spent"`
	TotalRealMoney         decimal.Decimal `json:"total_real_money"`
	WorksheetsPurchased    int             `json:"worksheets_purchased"`
	PendingCount           int             `json:"pending_count"`
	ThisMonthPurchaseCount int             `json:"this_month_purchase_count"`
}

// AggregateStats computes the stats in one pass over the account's history.
func (s *TransactionService) AggregateStats(ctx context.Context, accountID int64) (*TransactionStats, error) {
	transactions, err := s.ListByAccount(ctx, accountID, statsWindow)
	if err != nil {
		return nil, err
	}
	return computeStats(transactions, time.Now().UTC()), nil
}

func computeStats(transactions []models.Transaction, now time.Time) *TransactionStats {
	stats := &TransactionStats{TotalRealMoney: decimal.Zero}
	currentYear, currentMonth, _ := now.Date()

	for _, t := range transactions {
		switch t.Kind {
		case models.KindTopUp:
			switch t.Status {
			case models.StatusCompleted:
				stats.TotalToppedUp += t.Amount
				if t.RealAmount.Valid {
					stats.TotalRealMoney = stats.TotalRealMoney.Add(t.RealAmount.Decimal)
				}
			case models.StatusPending:
				stats.PendingCount++
			}
		case models.KindPurchase:
			if t.Status != models.StatusCompleted {
				continue
			}
			stats.TotalSpent += t.Amount
			stats.WorksheetsPurchased++

			year, month, _ := t.CreatedAt.UTC().Date()
			if year == currentYear && month == currentMonth {
				stats.ThisMonthPurchaseCount++
			}
		}
	}
	return stats
}

// UpdateStatus applies the one permitted mutation: a pending top-up moving
// to completed or failed. Completion credits the account in the same
// database transaction so the balance and the log can never disagree.
func (s *TransactionService) UpdateStatus(ctx context.Context, transactionID string, newStatus models.TransactionStatus) (*models.Transaction, error) {
	if newStatus != models.StatusCompleted && newStatus != models.StatusFailed {
		return nil, fmt.Errorf("%w: cannot move to %q", errInvalidTransition, newStatus)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var t models.Transaction
	err = tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE`,
		transactionID).Scan(&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.RealAmount, &t.Method,
		&t.Reference, &t.WorksheetID, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errTransactionNotFound, transactionID)
	}
	if err != nil {
		return nil, err
	}

	if t.Kind != models.KindTopUp || t.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: %s %s transaction cannot change status", errInvalidTransition, t.Status, t.Kind)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE transactions SET status = $1 WHERE id = $2", newStatus, t.ID); err != nil {
		return nil, err
	}

	if newStatus == models.StatusCompleted {
		if err := creditAccount(ctx, tx, t.AccountID, t.Amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t.Status = newStatus
	log.Printf("[TRANSACTIONS] Top-up %s marked %s for account %d (%d credits)", t.ID, newStatus, t.AccountID, t.Amount)
	return &t, nil
}

// ListTransactions returns the authenticated account's history, newest first.
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= statsWindow {
			limit = parsed
		}
	}

	transactions, err := s.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("[TRANSACTIONS] Listing failed for account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transaction history", http.StatusInternalServerError, nil)
		return
	}

	if transactions == nil {
		transactions = []models.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetStats returns the aggregate transaction statistics.
func (s *TransactionService) GetStats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	stats, err := s.AggregateStats(r.Context(), accountID)
	if err != nil {
		log.Printf("[TRANSACTIONS] Stats failed for account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transaction statistics", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"stats":   stats,
	})
}

// ConfirmTopUp marks a pending top-up completed after manual verification.
func (s *TransactionService) ConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	s.resolveTopUp(w, r, models.StatusCompleted)
}

// DeclineTopUp marks a pending top-up failed.
func (s *TransactionService) DeclineTopUp(w http.ResponseWriter, r *http.Request) {
	s.resolveTopUp(w, r, models.StatusFailed)
}

func (s *TransactionService) resolveTopUp(w http.ResponseWriter, r *http.Request, status models.TransactionStatus) {
	transactionID := chi.URLParam(r, "txID")
	if _, err := uuid.Parse(transactionID); err != nil {
		SendErrorResponse(w, "Invalid transaction ID", http.StatusBadRequest, nil)
		return
	}

	t, err := s.UpdateStatus(r.Context(), transactionID, status)
	if err != nil {
		if errors.Is(err, errTransactionNotFound) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
			return
		}
		if errors.Is(err, errInvalidTransition) {
			SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		log.Printf("[TRANSACTIONS] Status update failed for %s: %v", transactionID, err)
		SendErrorResponse(w, "Failed to update transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": t,
	})
}
