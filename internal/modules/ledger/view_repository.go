package ledger

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// ViewRepository persists the derived per-event computed outputs. Views are
// never written incrementally: the coordinator replaces a whole group's
// views inside the same transaction as the raw write, so raw events and
// views can never drift apart.
type ViewRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewViewRepository creates a new view repository.
func NewViewRepository(db *sql.DB, log zerolog.Logger) *ViewRepository {
	return &ViewRepository{
		db:  db,
		log: log.With().Str("repo", "views").Logger(),
	}
}

// ReplaceGroup upserts the computed views for every event of a replayed
// group. Deleted events lose their view rows via foreign-key cascade, so
// only upserts are needed here.
func (r *ViewRepository) ReplaceGroup(ctx context.Context, q querier, views map[string]domain.View) error {
	for txID, view := range views {
		_, err := q.ExecContext(ctx,
			`INSERT INTO transaction_views
			 (transaction_id, shares_after, acb_after, acb_per_share,
			  proceeds, acb_used, capital_gain, superficial_loss_deferred, income_cad)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(transaction_id) DO UPDATE SET
			  shares_after = excluded.shares_after,
			  acb_after = excluded.acb_after,
			  acb_per_share = excluded.acb_per_share,
			  proceeds = excluded.proceeds,
			  acb_used = excluded.acb_used,
			  capital_gain = excluded.capital_gain,
			  superficial_loss_deferred = excluded.superficial_loss_deferred,
			  income_cad = excluded.income_cad`,
			txID, view.SharesAfter.String(), view.AcbAfter.String(), view.AcbPerShare.String(),
			decimalPtrString(view.Proceeds), decimalPtrString(view.AcbUsed),
			decimalPtrString(view.CapitalGain), decimalPtrString(view.SuperficialLossDeferred),
			decimalPtrString(view.IncomeCAD))
		if err != nil {
			return domain.Internalf(err, "failed to write view for transaction %s", txID)
		}
	}
	return nil
}

// GetByTransactionID returns the stored view for one event.
func (r *ViewRepository) GetByTransactionID(ctx context.Context, q querier, txID string) (*domain.View, error) {
	row := q.QueryRowContext(ctx,
		`SELECT shares_after, acb_after, acb_per_share,
		        proceeds, acb_used, capital_gain, superficial_loss_deferred, income_cad
		 FROM transaction_views WHERE transaction_id = ?`, txID)
	view, err := scanView(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("view for transaction %s not found", txID)
	}
	if err != nil {
		return nil, domain.Internalf(err, "failed to read view")
	}
	return view, nil
}

// GetForTransactions returns the stored views for a set of events, keyed by
// transaction id. Events without a view row are simply absent from the map.
func (r *ViewRepository) GetForTransactions(ctx context.Context, q querier, txIDs []string) (map[string]domain.View, error) {
	views := make(map[string]domain.View, len(txIDs))
	for _, id := range txIDs {
		view, err := r.GetByTransactionID(ctx, q, id)
		if err != nil {
			if domain.KindOf(err) == domain.ErrNotFound {
				continue
			}
			return nil, err
		}
		views[id] = *view
	}
	return views, nil
}

func scanView(s scanner) (*domain.View, error) {
	var view domain.View
	var sharesAfter, acbAfter, acbPerShare string
	var proceeds, acbUsed, capitalGain, deferred, income sql.NullString

	err := s.Scan(&sharesAfter, &acbAfter, &acbPerShare,
		&proceeds, &acbUsed, &capitalGain, &deferred, &income)
	if err != nil {
		return nil, err
	}

	if view.SharesAfter, err = decimal.NewFromString(sharesAfter); err != nil {
		return nil, err
	}
	if view.AcbAfter, err = decimal.NewFromString(acbAfter); err != nil {
		return nil, err
	}
	if view.AcbPerShare, err = decimal.NewFromString(acbPerShare); err != nil {
		return nil, err
	}
	if view.Proceeds, err = decimalPtrFromNull(proceeds); err != nil {
		return nil, err
	}
	if view.AcbUsed, err = decimalPtrFromNull(acbUsed); err != nil {
		return nil, err
	}
	if view.CapitalGain, err = decimalPtrFromNull(capitalGain); err != nil {
		return nil, err
	}
	if view.SuperficialLossDeferred, err = decimalPtrFromNull(deferred); err != nil {
		return nil, err
	}
	if view.IncomeCAD, err = decimalPtrFromNull(income); err != nil {
		return nil, err
	}
	return &view, nil
}
