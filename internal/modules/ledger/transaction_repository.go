package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// querier abstracts *sql.DB and *sql.Tx so repository methods run either
// standalone or inside the coordinator's write transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// canonicalOrder is the single replay order: date, splits before same-day
// trading, then insertion sequence. Every listing query uses it so replay
// input never needs a re-sort.
const canonicalOrder = `ORDER BY t.date ASC, CASE WHEN t.type = 'split' THEN 0 ELSE 1 END ASC, t.seq ASC`

const transactionColumns = `t.seq, t.id, t.external_id, t.date, t.type, t.account_id, t.security_id,
	t.quantity, t.price, t.fees, t.fx_rate, t.roc_per_share, t.ratio, t.broker`

// TransactionRepository is the raw-event store. Events are append-ordered
// by the seq autoincrement; derived views live in ViewRepository.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transactions").Logger(),
	}
}

// DB exposes the underlying handle for the coordinator's transactions.
func (r *TransactionRepository) DB() *sql.DB { return r.db }

// Insert persists a new event, assigning its id and sequence number.
// A colliding externalId within the account surfaces as a duplicate error.
func (r *TransactionRepository) Insert(ctx context.Context, q querier, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, external_id, date, type, account_id, security_id,
		  quantity, price, fees, fx_rate, roc_per_share, ratio, broker, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.ExternalID, tx.Date.String(), string(tx.Kind), tx.AccountID, tx.SecurityID,
		tx.Quantity.String(), tx.Price.String(), tx.Fees.String(),
		decimalPtrString(tx.FxRate), decimalPtrString(tx.RocPerShare), decimalPtrString(tx.Ratio),
		tx.Broker, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Duplicatef("externalId %q already recorded for account %s", tx.ExternalID, tx.AccountID)
		}
		return domain.Internalf(err, "failed to insert transaction")
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return domain.Internalf(err, "failed to read assigned sequence")
	}
	tx.Seq = seq
	return nil
}

// Update rewrites an event's raw fields in place. The sequence number is
// preserved: edits do not move the event in intra-day insertion order.
func (r *TransactionRepository) Update(ctx context.Context, q querier, tx domain.Transaction) error {
	result, err := q.ExecContext(ctx,
		`UPDATE transactions SET
		 external_id = ?, date = ?, type = ?, account_id = ?, security_id = ?,
		 quantity = ?, price = ?, fees = ?, fx_rate = ?, roc_per_share = ?, ratio = ?, broker = ?
		 WHERE id = ?`,
		tx.ExternalID, tx.Date.String(), string(tx.Kind), tx.AccountID, tx.SecurityID,
		tx.Quantity.String(), tx.Price.String(), tx.Fees.String(),
		decimalPtrString(tx.FxRate), decimalPtrString(tx.RocPerShare), decimalPtrString(tx.Ratio),
		tx.Broker, tx.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Duplicatef("externalId %q already recorded for account %s", tx.ExternalID, tx.AccountID)
		}
		return domain.Internalf(err, "failed to update transaction")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFoundf("transaction %s not found", tx.ID)
	}
	return nil
}

// Delete removes an event; its view row cascades.
func (r *TransactionRepository) Delete(ctx context.Context, q querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return domain.Internalf(err, "failed to delete transaction")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFoundf("transaction %s not found", id)
	}
	return nil
}

// GetByID returns one raw event.
func (r *TransactionRepository) GetByID(ctx context.Context, q querier, id string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("transaction %s not found", id)
	}
	if err != nil {
		return nil, domain.Internalf(err, "failed to read transaction")
	}
	return tx, nil
}

// ListGroup returns every event of one replay group - an account crossed
// with a set of journalled security ids - in canonical order.
func (r *TransactionRepository) ListGroup(ctx context.Context, q querier, accountID string, securityIDs []string) ([]domain.Transaction, error) {
	if len(securityIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(securityIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(securityIDs)+1)
	args = append(args, accountID)
	for _, id := range securityIDs {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE t.account_id = ? AND t.security_id IN (`+placeholders+`) `+canonicalOrder,
		args...)
	if err != nil {
		return nil, domain.Internalf(err, "failed to list group transactions")
	}
	return collectTransactions(rows)
}

// ListAll returns every event in canonical order, optionally filtered by
// account and/or security.
func (r *TransactionRepository) ListAll(ctx context.Context, q querier, accountID, securityID string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t`
	var conds []string
	var args []interface{}
	if accountID != "" {
		conds = append(conds, "t.account_id = ?")
		args = append(args, accountID)
	}
	if securityID != "" {
		conds = append(conds, "t.security_id = ?")
		args = append(args, securityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " " + canonicalOrder

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Internalf(err, "failed to list transactions")
	}
	return collectTransactions(rows)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var dateStr, kind string
	var quantity, price, fees string
	var fxRate, rocPerShare, ratio sql.NullString

	err := s.Scan(&tx.Seq, &tx.ID, &tx.ExternalID, &dateStr, &kind, &tx.AccountID, &tx.SecurityID,
		&quantity, &price, &fees, &fxRate, &rocPerShare, &ratio, &tx.Broker)
	if err != nil {
		return nil, err
	}

	tx.Kind = domain.TxKind(kind)
	if tx.Date, err = domain.ParseDate(dateStr); err != nil {
		return nil, err
	}
	if tx.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if tx.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if tx.Fees, err = decimal.NewFromString(fees); err != nil {
		return nil, err
	}
	if tx.FxRate, err = decimalPtrFromNull(fxRate); err != nil {
		return nil, err
	}
	if tx.RocPerShare, err = decimalPtrFromNull(rocPerShare); err != nil {
		return nil, err
	}
	if tx.Ratio, err = decimalPtrFromNull(ratio); err != nil {
		return nil, err
	}
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.Internalf(err, "failed to scan transaction")
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internalf(err, "failed to iterate transactions")
	}
	return txs, nil
}

func decimalPtrString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtrFromNull(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
