package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// CreditService owns the per-account credit ledger: balance reads and the
// two atomic mutations (credit, debit). Everything monetary here is int64
// credits; real money only appears at the top-up boundary as a decimal.
type CreditService struct {
	db        *sql.DB
	txlog     *TransactionService
	validator *ValidationHelper
}

func NewCreditService(db *sql.DB, txlog *TransactionService) *CreditService {
	viper.SetDefault("credits.per_unit", 10)
	viper.SetDefault("credits.minimum_topup", 1)
	viper.SetDefault("credits.currency", "PHP")

	return &CreditService{
		db:        db,
		txlog:     txlog,
		validator: NewValidationHelper(),
	}
}

// GetBalance returns the account's current credit balance. An account with
// no ledger row reads as zero.
func (s *CreditService) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = $1", accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AddCredits atomically increases the balance. Used for confirmed top-ups.
func (s *CreditService) AddCredits(ctx context.Context, accountID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return creditAccount(ctx, s.db, accountID, amount)
}

// DeductCredits atomically decreases the balance only when it covers the
// amount. Insufficient funds is a declined result (false, nil), not an error.
func (s *CreditService) DeductCredits(ctx context.Context, accountID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return debitAccount(ctx, s.db, accountID, amount)
}

// CreditsFromAmount converts a real-money amount to credits at the
// configured rate, truncating any fractional credit.
func (s *CreditService) CreditsFromAmount(realAmount decimal.Decimal) int64 {
	rate := decimal.NewFromInt(viper.GetInt64("credits.per_unit"))
	return realAmount.Mul(rate).IntPart()
}

// AmountFromCredits converts credits back to a real-money amount.
func (s *CreditService) AmountFromCredits(credits int64) decimal.Decimal {
	rate := decimal.NewFromInt(viper.GetInt64("credits.per_unit"))
	return decimal.NewFromInt(credits).Div(rate)
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx so the balance mutations can
// run standalone or inside the purchase transaction.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func creditAccount(ctx context.Context, q sqlExecer, accountID, amount int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2`,
		amount, accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %d not found", accountID)
	}

	log.Printf("[CREDITS] Added %d credits to account %d", amount, accountID)
	return nil
}

// debitAccount performs the conditional debit. Zero rows affected means the
// balance did not cover the amount and nothing was mutated.
func debitAccount(ctx context.Context, q sqlExecer, accountID, amount int64) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1`,
		amount, accountID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected == 0 {
		return false, nil
	}

	log.Printf("[CREDITS] Deducted %d credits from account %d", amount, accountID)
	return true, nil
}

// TopUpRequest is the top-up submission payload. Real money is verified
// manually off-platform, so the request only ever creates a pending
// transaction.
type TopUpRequest struct {
	RealAmount       decimal.Decimal `json:"real_amount"`
	PaymentMethod    string          `json:"payment_method" validate:"required"`
	PaymentReference string          `json:"payment_reference"`
}

// GetCredits returns the authenticated account's balance.
func (s *CreditService) GetCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	credits, err := s.GetBalance(r.Context(), accountID)
	if err != nil {
		log.Printf("[CREDITS] Balance query failed for account %d: %v", accountID, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"credits":    credits,
		"account_id": accountID,
	})
}

// RequestTopUp records a pending top-up. Credits are only added once the
// payment is verified and the transaction is confirmed.
func (s *CreditService) RequestTopUp(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TopUpRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	minimum := decimal.NewFromInt(viper.GetInt64("credits.minimum_topup"))
	if req.RealAmount.LessThan(minimum) {
		SendErrorResponse(w, fmt.Sprintf("Minimum top-up amount is %s", minimum.String()), http.StatusBadRequest, nil)
		return
	}

	credits := s.CreditsFromAmount(req.RealAmount)
	if credits <= 0 {
		SendErrorResponse(w, "Invalid top-up amount", http.StatusBadRequest, nil)
		return
	}

	transaction := &models.Transaction{
		AccountID:  accountID,
		Kind:       models.KindTopUp,
		Amount:     credits,
		RealAmount: decimal.NullDecimal{Decimal: req.RealAmount, Valid: true},
		Method:     req.PaymentMethod,
		Reference:  req.PaymentReference,
		Status:     models.StatusPending,
	}
	if err := s.txlog.Append(r.Context(), transaction); err != nil {
		log.Printf("[CREDITS] Failed to record top-up for account %d: %v", accountID, err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CREDITS] Top-up requested: account=%d credits=%d method=%s", accountID, credits, req.PaymentMethod)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":           true,
		"message":           "Top-up request submitted. Please wait for verification.",
		"transaction_id":    transaction.ID,
		"credits_requested": credits,
		"real_amount":       req.RealAmount,
		"status":            models.StatusPending,
	})
}

// GetRates returns the static conversion table. Public endpoint.
func (s *CreditService) GetRates(w http.ResponseWriter, r *http.Request) {
	perUnit := viper.GetInt64("credits.per_unit")

	examples := make([]map[string]any, 0, 4)
	for _, amount := range []int64{1, 10, 50, 100} {
		examples = append(examples, map[string]any{
			"amount":  amount,
			"credits": s.CreditsFromAmount(decimal.NewFromInt(amount)),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"rates": map[string]any{
			"credits_per_unit": perUnit,
			"minimum_amount":   viper.GetInt64("credits.minimum_topup"),
			"currency":         viper.GetString("credits.currency"),
		},
		"examples": examples,
	})
}
