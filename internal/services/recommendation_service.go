package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/aezcrib/backend/internal/middleware"
	"github.com/aezcrib/backend/internal/models"
	"github.com/lib/pq"
)

const (
	defaultRecommendationLimit = 6
	maxRecommendationLimit     = 20
)

// tierFetch returns up to limit candidate worksheets for one tier. The
// exclusion list (owned plus already selected) is pushed into the query;
// the pipeline re-checks it anyway so the tie-break and exclusion rules are
// enforced in exactly one place.
type tierFetch func(ctx context.Context, accountID int64, exclude []int64, limit int) ([]models.Worksheet, error)

type recommendationTier struct {
	name  string
	fetch tierFetch
}

// RecommendationService ranks un-owned catalog worksheets for an account
// using an ordered tier pipeline over purchase history: subject match,
// level match, purchase popularity, then publication recency. Popularity is
// the real count of completed purchases, never a synthetic score.
type RecommendationService struct {
	db *sql.DB
}

func NewRecommendationService(db *sql.DB) *RecommendationService {
	return &RecommendationService{db: db}
}

// Recommend returns up to limit worksheets, best tier first. A tier whose
// data access fails is skipped; the pipeline degrades toward the recency
// tier rather than failing the call.
func (s *RecommendationService) Recommend(ctx context.Context, accountID int64, limit int) ([]models.Worksheet, error) {
	owned, err := s.purchasedWorksheetIDs(ctx, accountID)
	if err != nil {
		// The owned set is shared exclusion state for every tier; without
		// it we could recommend items the account already holds.
		return nil, err
	}

	tiers := []recommendationTier{
		{name: "subject", fetch: s.bySubjectHistory},
		{name: "level", fetch: s.byLevelHistory},
		{name: "popularity", fetch: s.byPopularity},
		{name: "recency", fetch: s.byRecency},
	}

	return collectTiers(ctx, accountID, tiers, owned, limit)
}

// collectTiers runs the pipeline: tiers in order, shared exclusion state,
// stop once limit worksheets are selected.
func collectTiers(ctx context.Context, accountID int64, tiers []recommendationTier, owned []int64, limit int) ([]models.Worksheet, error) {
	excluded := make(map[int64]struct{}, len(owned))
	for _, id := range owned {
		excluded[id] = struct{}{}
	}

	selected := make([]models.Worksheet, 0, limit)
	for _, tier := range tiers {
		if len(selected) >= limit {
			break
		}

		exclude := make([]int64, 0, len(excluded))
		for id := range excluded {
			exclude = append(exclude, id)
		}

		candidates, err := tier.fetch(ctx, accountID, exclude, limit-len(selected))
		if err != nil {
			log.Printf("[RECOMMEND] Tier %q unavailable for account %d, skipping: %v", tier.name, accountID, err)
			continue
		}

		for _, ws := range candidates {
			if len(selected) >= limit {
				break
			}
			if _, seen := excluded[ws.ID]; seen {
				continue
			}
			excluded[ws.ID] = struct{}{}
			selected = append(selected, ws)
		}
	}

	return selected, nil
}

// purchasedWorksheetIDs returns the ids of worksheets the account holds.
func (s *RecommendationService) purchasedWorksheetIDs(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT worksheet_id FROM ownerships WHERE account_id = $1 ORDER BY worksheet_id", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Tier 1: subjects the account has previously purchased. All matches rank
// equal, so the tie-break is ascending id.
func (s *RecommendationService) bySubjectHistory(ctx context.Context, accountID int64, exclude []int64, limit int) ([]models.Worksheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedWorksheetColumns+`
		FROM worksheets w
		WHERE w.published
		  AND NOT (w.id = ANY($2))
		  AND w.subject IN (
			SELECT DISTINCT pw.subject
			FROM transactions t
			JOIN worksheets pw ON pw.id = t.worksheet_id
			WHERE t.account_id = $1 AND t.kind = 'purchase' AND t.status = 'completed'
		  )
		ORDER BY w.id ASC
		LIMIT $3`,
		accountID, pq.Array(exclude), limit)
	if err != nil {
		return nil, err
	}
	return scanWorksheets(rows)
}

// Tier 2: levels the account has previously purchased.
func (s *RecommendationService) byLevelHistory(ctx context.Context, accountID int64, exclude []int64, limit int) ([]models.Worksheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedWorksheetColumns+`
		FROM worksheets w
		WHERE w.published
		  AND NOT (w.id = ANY($2))
		  AND w.level IN (
			SELECT DISTINCT pw.level
			FROM transactions t
			JOIN worksheets pw ON pw.id = t.worksheet_id
			WHERE t.account_id = $1 AND t.kind = 'purchase' AND t.status = 'completed'
		  )
		ORDER BY w.id ASC
		LIMIT $3`,
		accountID, pq.Array(exclude), limit)
	if err != nil {
		return nil, err
	}
	return scanWorksheets(rows)
}

// Tier 3: global purchase popularity, descending.
func (s *RecommendationService) byPopularity(ctx context.Context, _ int64, exclude []int64, limit int) ([]models.Worksheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedWorksheetColumns+`
		FROM worksheets w
		JOIN (
			SELECT worksheet_id, COUNT(*) AS purchases
			FROM transactions
			WHERE kind = 'purchase' AND status = 'completed'
			GROUP BY worksheet_id
		) p ON p.worksheet_id = w.id
		WHERE w.published
		  AND NOT (w.id = ANY($1))
		ORDER BY p.purchases DESC, w.id ASC
		LIMIT $2`,
		pq.Array(exclude), limit)
	if err != nil {
		return nil, err
	}
	return scanWorksheets(rows)
}

// Tier 4: most recent publication. As long as any published worksheet
// remains unselected, this tier has a result.
func (s *RecommendationService) byRecency(ctx context.Context, _ int64, exclude []int64, limit int) ([]models.Worksheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedWorksheetColumns+`
		FROM worksheets w
		WHERE w.published
		  AND NOT (w.id = ANY($1))
		ORDER BY w.created_at DESC, w.id ASC
		LIMIT $2`,
		pq.Array(exclude), limit)
	if err != nil {
		return nil, err
	}
	return scanWorksheets(rows)
}

const prefixedWorksheetColumns = "w.id, w.title, w.subject, w.level, w.price, w.published, w.file_path, w.created_at"

func scanWorksheets(rows *sql.Rows) ([]models.Worksheet, error) {
	defer rows.Close()

	var worksheets []models.Worksheet
	for rows.Next() {
		var ws models.Worksheet
		if err := rows.Scan(&ws.ID, &ws.Title, &ws.Subject, &ws.Level, &ws.Price, &ws.Published, &ws.FilePath, &ws.CreatedAt); err != nil {
			return nil, err
		}
		worksheets = append(worksheets, ws)
	}
	return worksheets, rows.Err()
}

// GetRecommendations handles GET /recommendations?limit=N.
func (s *RecommendationService) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "User not authenticated", http.StatusUnauthorized, nil)
		return
	}
	s.serveRecommendations(w, r, accountID)
}

// GetPopular handles GET /recommendations/popular. No account context, so
// the history tiers are empty and the pipeline falls through to popularity
// and recency.
func (s *RecommendationService) GetPopular(w http.ResponseWriter, r *http.Request) {
	s.serveRecommendations(w, r, 0)
}

func (s *RecommendationService) serveRecommendations(w http.ResponseWriter, r *http.Request, accountID int64) {
	limit := defaultRecommendationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	limit = min(max(limit, 1), maxRecommendationLimit)

	recommendations, err := s.Recommend(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("[RECOMMEND] Failed for account %d: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch recommendations", http.StatusInternalServerError, nil)
		return
	}

	if recommendations == nil {
		recommendations = []models.Worksheet{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":         true,
		"recommendations": recommendations,
		"count":           len(recommendations),
	})
}
