package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// AccountRepository handles account persistence.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Create inserts a new account, assigning its id.
func (r *AccountRepository) Create(ctx context.Context, acc *domain.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, type, broker, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		acc.ID, acc.Name, acc.Type, acc.Broker, time.Now().Unix())
	if err != nil {
		return domain.Internalf(err, "failed to create account")
	}
	r.log.Debug().Str("id", acc.ID).Str("name", acc.Name).Msg("Account created")
	return nil
}

// GetByID returns an account by id.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var acc domain.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, type, broker FROM accounts WHERE id = ?`, id).
		Scan(&acc.ID, &acc.Name, &acc.Type, &acc.Broker)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("account %s not found", id)
	}
	if err != nil {
		return nil, domain.Internalf(err, "failed to read account")
	}
	return &acc, nil
}

// List returns all accounts ordered by name.
func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, type, broker FROM accounts ORDER BY name`)
	if err != nil {
		return nil, domain.Internalf(err, "failed to list accounts")
	}
	defer rows.Close()

	accs := make([]domain.Account, 0)
	for rows.Next() {
		var acc domain.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Type, &acc.Broker); err != nil {
			return nil, domain.Internalf(err, "failed to scan account")
		}
		accs = append(accs, acc)
	}
	return accs, rows.Err()
}

// Delete removes an account and, via cascade, its ledger events.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return domain.Internalf(err, "failed to delete account")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFoundf("account %s not found", id)
	}
	r.log.Debug().Str("id", id).Msg("Account deleted")
	return nil
}
