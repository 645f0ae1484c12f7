package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// TenantAdapter implements out.TenantStore using PostgreSQL.
type TenantAdapter struct {
	db *sqlx.DB
}

// NewTenantAdapter creates a new tenant adapter.
func NewTenantAdapter(db *sqlx.DB) *TenantAdapter {
	return &TenantAdapter{db: db}
}

var _ out.TenantStore = (*TenantAdapter)(nil)

// tenantRow represents the database row.
type tenantRow struct {
	ID         int64          `db:"id"`
	Name       string         `db:"name"`
	Email      string         `db:"email"`
	Phone      sql.NullString `db:"phone"`
	Unit       sql.NullString `db:"unit"`
	PropertyID sql.NullInt64  `db:"property_id"`
	Rent       float64        `db:"rent"`
	Balance    float64        `db:"balance"`
}

func (r *tenantRow) toDomain() *domain.Tenant {
	t := &domain.Tenant{
		ID:      r.ID,
		Name:    r.Name,
		Email:   r.Email,
		Phone:   r.Phone.String,
		Unit:    r.Unit.String,
		Rent:    r.Rent,
		Balance: r.Balance,
	}
	if r.PropertyID.Valid {
		id := r.PropertyID.Int64
		t.PropertyID = &id
	}
	return t
}

const tenantColumns = `id, name, email, phone, unit, property_id, rent::float8 AS rent, balance::float8 AS balance`

// LookupTenantByEmail matches case-insensitively. No match is (nil, nil).
func (a *TenantAdapter) LookupTenantByEmail(ctx context.Context, address string) (*domain.Tenant, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}

	var row tenantRow
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE LOWER(email) = $1 LIMIT 1`
	if err := a.db.GetContext(ctx, &row, query, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lookup tenant: %w", err)
	}
	return row.toDomain(), nil
}

// LookupTenantsByEmails resolves many senders in one round trip, keyed by lower-cased address.
func (a *TenantAdapter) LookupTenantsByEmails(ctx context.Context, addresses []string) (map[string]*domain.Tenant, error) {
	result := make(map[string]*domain.Tenant, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	lowered := make([]string, len(addresses))
	for i, addr := range addresses {
		lowered[i] = strings.ToLower(strings.TrimSpace(addr))
	}

	var rows []tenantRow
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE LOWER(email) = ANY($1)`
	if err := a.db.SelectContext(ctx, &rows, query, pq.Array(lowered)); err != nil {
		return nil, fmt.Errorf("failed to lookup tenants: %w", err)
	}
	for i := range rows {
		t := rows[i].toDomain()
		result[strings.ToLower(t.Email)] = t
	}
	return result, nil
}

// LookupProperty returns (nil, nil) when the id is unknown.
func (a *TenantAdapter) LookupProperty(ctx context.Context, id int64) (*domain.Property, error) {
	var p domain.Property
	err := a.db.QueryRowxContext(ctx, `SELECT id, name, address FROM properties WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lookup property: %w", err)
	}
	return &p, nil
}

// CreateTicket inserts a ticket or returns the existing one for the same dedup key.
func (a *TenantAdapter) CreateTicket(ctx context.Context, req domain.TicketRequest) (string, error) {
	query := `
		INSERT INTO maintenance_tickets (tenant_id, property_id, issue, priority, dedup_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dedup_key) DO UPDATE SET updated_at = NOW()
		RETURNING id`

	var id int64
	if err := a.db.QueryRowxContext(ctx, query,
		req.TenantID, req.PropertyID, req.Issue, string(req.Priority), req.DedupKey,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to create ticket: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}
