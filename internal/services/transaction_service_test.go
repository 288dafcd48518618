package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransactionService(t *testing.T) (*TransactionService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewTransactionService(db), mock
}

func transactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_id", "kind", "amount", "real_amount",
		"method", "reference", "worksheet_id", "status", "created_at"})
}

func TestTransactionService_Append(t *testing.T) {
	service, mock := newTransactionService(t)

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(sqlmock.AnyArg(), int64(1), "topup", int64(100), "10", "gcash", "", nil, "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	transaction := &models.Transaction{
		AccountID:  1,
		Kind:       models.KindTopUp,
		Amount:     100,
		RealAmount: decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true},
		Method:     "gcash",
		Status:     models.StatusPending,
	}
	require.NoError(t, service.Append(context.Background(), transaction))

	assert.NotEmpty(t, transaction.ID, "Append assigns an id")
	assert.False(t, transaction.CreatedAt.IsZero(), "Append assigns a timestamp")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_ListByAccount(t *testing.T) {
	service, mock := newTransactionService(t)

	now := time.Now().UTC()
	mock.ExpectQuery("FROM transactions").
		WithArgs(int64(1), 50).
		WillReturnRows(transactionRows().
			AddRow(uuid.NewString(), 1, "purchase", 40, nil, "", "", 7, "completed", now).
			AddRow(uuid.NewString(), 1, "topup", 100, "10", "gcash", "REF-1", nil, "completed", now.Add(-time.Hour)))

	transactions, err := service.ListByAccount(context.Background(), 1, 50)
	require.NoError(t, err)
	require.Len(t, transactions, 2)
	assert.Equal(t, models.KindPurchase, transactions[0].Kind)
	assert.Equal(t, int64(7), transactions[0].WorksheetID.Int64)
	assert.True(t, transactions[1].RealAmount.Valid)
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	amount := func(s string) decimal.NullDecimal {
		d, _ := decimal.NewFromString(s)
		return decimal.NullDecimal{Decimal: d, Valid: true}
	}

	transactions := []models.Transaction{
		{Kind: models.KindTopUp, Status: models.StatusCompleted, Amount: 100, RealAmount: amount("10"), CreatedAt: now.AddDate(0, -2, 0)},
		{Kind: models.KindTopUp, Status: models.StatusCompleted, Amount: 50, RealAmount: amount("5.50"), CreatedAt: now.AddDate(0, -1, 0)},
		{Kind: models.KindTopUp, Status: models.StatusPending, Amount: 200, RealAmount: amount("20"), CreatedAt: now},
		{Kind: models.KindTopUp, Status: models.StatusFailed, Amount: 30, RealAmount: amount("3"), CreatedAt: now},
		{Kind: models.KindPurchase, Status: models.StatusCompleted, Amount: 40, CreatedAt: now.AddDate(0, -1, 0)},
		{Kind: models.KindPurchase, Status: models.StatusCompleted, Amount: 25, CreatedAt: now.Add(-48 * time.Hour)},
		{Kind: models.KindPurchase, Status: models.StatusCompleted, Amount: 15, CreatedAt: now},
	}

	stats := computeStats(transactions, now)

	assert.Equal(t, int64(150), stats.TotalToppedUp, "only completed top-ups count")
	assert.Equal(t, int64(80), stats.TotalSpent)
	assert.Equal(t, 3, stats.WorksheetsPurchased)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 2, stats.ThisMonthPurchaseCount)
	assert.True(t, stats.TotalRealMoney.Equal(decimal.RequireFromString("15.5")))
}

func TestComputeStats_Empty(t *testing.T) {
	stats := computeStats(nil, time.Now().UTC())

	assert.Equal(t, int64(0), stats.TotalToppedUp)
	assert.Equal(t, 0, stats.PendingCount)
	assert.True(t, stats.TotalRealMoney.IsZero())
}

func TestTransactionService_UpdateStatus(t *testing.T) {
	transactionID := uuid.NewString()
	now := time.Now().UTC()

	t.Run("confirming a pending top-up credits the account in one transaction", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "topup", 100, "10", "gcash", "", nil, "pending", now))
		mock.ExpectExec("UPDATE transactions SET status = \\$1 WHERE id = \\$2").
			WithArgs("completed", transactionID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("SET balance = balance \\+ \\$1").
			WithArgs(int64(100), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transaction, err := service.UpdateStatus(context.Background(), transactionID, models.StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("declining a pending top-up never touches the balance", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "topup", 100, "10", "gcash", "", nil, "pending", now))
		mock.ExpectExec("UPDATE transactions SET status = \\$1 WHERE id = \\$2").
			WithArgs("failed", transactionID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		transaction, err := service.UpdateStatus(context.Background(), transactionID, models.StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already completed top-up cannot change again", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "topup", 100, "10", "gcash", "", nil, "completed", now))
		mock.ExpectRollback()

		_, err := service.UpdateStatus(context.Background(), transactionID, models.StatusCompleted)
		assert.ErrorIs(t, err, errInvalidTransition)
	})

	t.Run("purchase records are immutable", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "purchase", 40, nil, "", "", 7, "completed", now))
		mock.ExpectRollback()

		_, err := service.UpdateStatus(context.Background(), transactionID, models.StatusFailed)
		assert.ErrorIs(t, err, errInvalidTransition)
	})

	t.Run("pending is not a valid target status", func(t *testing.T) {
		service, _ := newTransactionService(t)

		_, err := service.UpdateStatus(context.Background(), transactionID, models.StatusPending)
		assert.ErrorIs(t, err, errInvalidTransition)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.UpdateStatus(context.Background(), transactionID, models.StatusCompleted)
		assert.ErrorIs(t, err, errTransactionNotFound)
	})
}

func TestTransactionService_ListTransactionsHandler(t *testing.T) {
	accountID := int64(1)

	t.Run("empty history returns an empty list", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectQuery("FROM transactions").
			WithArgs(accountID, 50).
			WillReturnRows(transactionRows())

		req := httptest.NewRequest("GET", "/transactions", nil)
		req = req.WithContext(middleware.ContextWithAccountID(req.Context(), accountID))
		w := httptest.NewRecorder()
		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"transactions":[]`)
	})

	t.Run("limit parameter is honored within the window", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectQuery("FROM transactions").
			WithArgs(accountID, 5).
			WillReturnRows(transactionRows())

		req := httptest.NewRequest("GET", "/transactions?limit=5", nil)
		req = req.WithContext(middleware.ContextWithAccountID(req.Context(), accountID))
		w := httptest.NewRecorder()
		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized limit falls back to the default", func(t *testing.T) {
		service, mock := newTransactionService(t)

		mock.ExpectQuery("FROM transactions").
			WithArgs(accountID, 50).
			WillReturnRows(transactionRows())

		req := httptest.NewRequest("GET", "/transactions?limit=99999", nil)
		req = req.WithContext(middleware.ContextWithAccountID(req.Context(), accountID))
		w := httptest.NewRecorder()
		service.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_ResolveTopUpHandler(t *testing.T) {
	newRouter := func(service *TransactionService) *chi.Mux {
		r := chi.NewRouter()
		r.Post("/admin/transactions/{txID}/confirm", service.ConfirmTopUp)
		r.Post("/admin/transactions/{txID}/decline", service.DeclineTopUp)
		return r
	}

	t.Run("malformed id is rejected before any query", func(t *testing.T) {
		service, _ := newTransactionService(t)

		req := httptest.NewRequest("POST", "/admin/transactions/not-a-uuid/confirm", nil)
		w := httptest.NewRecorder()
		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown transaction maps to 404", func(t *testing.T) {
		service, mock := newTransactionService(t)
		transactionID := uuid.NewString()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/admin/transactions/"+transactionID+"/confirm", nil)
		w := httptest.NewRecorder()
		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("repeated confirmation maps to 409", func(t *testing.T) {
		service, mock := newTransactionService(t)
		transactionID := uuid.NewString()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "topup", 100, "10", "gcash", "", nil, "completed", time.Now().UTC()))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/admin/transactions/"+transactionID+"/confirm", nil)
		w := httptest.NewRecorder()
		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("decline succeeds", func(t *testing.T) {
		service, mock := newTransactionService(t)
		transactionID := uuid.NewString()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").
			WithArgs(transactionID).
			WillReturnRows(transactionRows().
				AddRow(transactionID, 1, "topup", 100, "10", "gcash", "", nil, "pending", time.Now().UTC()))
		mock.ExpectExec("UPDATE transactions SET status = \\$1 WHERE id = \\$2").
			WithArgs("failed", transactionID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/admin/transactions/"+transactionID+"/decline", nil)
		w := httptest.NewRecorder()
		newRouter(service).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Success     bool               `json:"success"`
			Transaction models.Transaction `json:"transaction"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Success)
		assert.Equal(t, models.StatusFailed, response.Transaction.Status)
	})
}
