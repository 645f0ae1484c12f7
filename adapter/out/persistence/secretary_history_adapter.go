package persistence

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// HistoryAdapter implements out.HistoryRepository. Rows are never updated.
type HistoryAdapter struct {
	db *pgxpool.Pool
}

func NewHistoryAdapter(db *pgxpool.Pool) *HistoryAdapter {
	return &HistoryAdapter{db: db}
}

var _ out.HistoryRepository = (*HistoryAdapter)(nil)

func (a *HistoryAdapter) Append(ctx context.Context, e *domain.HistoryEntry) error {
	actions := e.Actions
	if actions == nil {
		actions = []domain.ActionRecord{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO email_history (id, email_id, category, actions, response_generated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.EmailID, string(e.Category), string(actionsJSON), e.ResponsePreview, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (a *HistoryAdapter) ListByEmail(ctx context.Context, emailID string) ([]*domain.HistoryEntry, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id::text, email_id, category, actions::text, response_generated, created_at
		FROM email_history WHERE email_id = $1 ORDER BY created_at`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var result []*domain.HistoryEntry
	for rows.Next() {
		var (
			e           domain.HistoryEntry
			category    string
			actionsJSON string
		)
		if err := rows.Scan(&e.ID, &e.EmailID, &category, &actionsJSON, &e.ResponsePreview, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Category = domain.Category(category)
		if err := json.Unmarshal([]byte(actionsJSON), &e.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
