// Package catalog manages the reference entities ledger events point at:
// securities and accounts.
package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// SecurityRepository handles security persistence.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// Create inserts a new security, assigning its id.
func (r *SecurityRepository) Create(ctx context.Context, sec *domain.Security) error {
	if sec.ID == "" {
		sec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO securities (id, symbol, name, currency, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.Symbol, sec.Name, string(sec.Currency), sec.Type, time.Now().Unix())
	if err != nil {
		return domain.Internalf(err, "failed to create security")
	}
	r.log.Debug().Str("id", sec.ID).Str("symbol", sec.Symbol).Msg("Security created")
	return nil
}

// GetByID returns a security by id.
func (r *SecurityRepository) GetByID(ctx context.Context, id string) (*domain.Security, error) {
	var sec domain.Security
	var currency string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, symbol, name, currency, type FROM securities WHERE id = ?`, id).
		Scan(&sec.ID, &sec.Symbol, &sec.Name, &currency, &sec.Type)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("security %s not found", id)
	}
	if err != nil {
		return nil, domain.Internalf(err, "failed to read security")
	}
	sec.Currency = domain.Currency(currency)
	return &sec, nil
}

// List returns all securities ordered by symbol.
func (r *SecurityRepository) List(ctx context.Context) ([]domain.Security, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, symbol, name, currency, type FROM securities ORDER BY symbol`)
	if err != nil {
		return nil, domain.Internalf(err, "failed to list securities")
	}
	defer rows.Close()

	secs := make([]domain.Security, 0)
	for rows.Next() {
		var sec domain.Security
		var currency string
		if err := rows.Scan(&sec.ID, &sec.Symbol, &sec.Name, &currency, &sec.Type); err != nil {
			return nil, domain.Internalf(err, "failed to scan security")
		}
		sec.Currency = domain.Currency(currency)
		secs = append(secs, sec)
	}
	return secs, rows.Err()
}

// Delete removes a security. Ledger events referencing it cascade.
func (r *SecurityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM securities WHERE id = ?`, id)
	if err != nil {
		return domain.Internalf(err, "failed to delete security")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFoundf("security %s not found", id)
	}
	r.log.Debug().Str("id", id).Msg("Security deleted")
	return nil
}
