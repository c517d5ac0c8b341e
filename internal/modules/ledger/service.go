package ledger

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mapleledger/mapleledger/internal/database"
	"github.com/mapleledger/mapleledger/internal/domain"
)

// SecurityCatalog resolves the securities events point at.
type SecurityCatalog interface {
	GetByID(ctx context.Context, id string) (*domain.Security, error)
	List(ctx context.Context) ([]domain.Security, error)
}

// RateSource provides the native-to-CAD exchange rate for a currency on a
// date. Implemented by the Bank of Canada client.
type RateSource interface {
	RateFor(ctx context.Context, currency domain.Currency, date domain.Date) (decimal.Decimal, error)
}

// Service is the mutation coordinator. Every write locks the affected
// replay group, applies the raw change and the full group recompute inside
// one database transaction, and rolls the whole write back if the replay
// rejects it. Reads never lock and never recompute; they serve the stored
// views.
type Service struct {
	db         *sql.DB
	txRepo     *TransactionRepository
	viewRepo   *ViewRepository
	securities SecurityCatalog
	rates      RateSource
	timeout    time.Duration
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new ledger service.
func NewService(
	db *sql.DB,
	txRepo *TransactionRepository,
	viewRepo *ViewRepository,
	securities SecurityCatalog,
	rates RateSource,
	timeout time.Duration,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:         db,
		txRepo:     txRepo,
		viewRepo:   viewRepo,
		securities: securities,
		rates:      rates,
		timeout:    timeout,
		log:        log.With().Str("service", "ledger").Logger(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// group is a resolved replay group: one account crossed with the journalled
// listings of one base symbol. Dual CAD/USD listings of the same fund share
// a group, so shares bought on one listing can legally be sold on the other.
type group struct {
	key         string
	accountID   string
	securityIDs []string
}

func (s *Service) resolveGroup(ctx context.Context, accountID string, sec *domain.Security) (group, error) {
	all, err := s.securities.List(ctx)
	if err != nil {
		return group{}, err
	}
	base := sec.SymbolBase()
	ids := []string{sec.ID}
	for _, other := range all {
		if other.ID != sec.ID && other.SymbolBase() == base && other.Currency != sec.Currency {
			ids = append(ids, other.ID)
		}
	}
	return group{
		key:         accountID + "\x00" + base,
		accountID:   accountID,
		securityIDs: ids,
	}, nil
}

// lockFor returns the mutex guarding one group key, creating it on first
// use. Group mutexes are never removed; the set of keys is small.
func (s *Service) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// lockGroups acquires the mutexes for a set of group keys in sorted key
// order, so concurrent writers touching the same pair cannot deadlock.
// The returned function releases them.
func (s *Service) lockGroups(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		l := s.lockFor(k)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// prepare validates an incoming event against its security and fills the
// exchange rate from the rate source when the caller omitted it on a
// non-CAD security. The filled rate is persisted with the event so history
// never depends on the rate source again.
func (s *Service) prepare(ctx context.Context, tx *domain.Transaction) (*domain.Security, error) {
	if !tx.Kind.Valid() {
		return nil, domain.Validationf("unknown transaction type %q", tx.Kind)
	}
	if tx.SecurityID == "" {
		return nil, domain.Validationf("securityId is required")
	}
	sec, err := s.securities.GetByID(ctx, tx.SecurityID)
	if err != nil {
		if domain.KindOf(err) == domain.ErrNotFound {
			return nil, domain.Validationf("unknown securityId %s", tx.SecurityID)
		}
		return nil, err
	}

	if sec.Currency != domain.CAD && tx.FxRate == nil && tx.Kind != domain.KindSplit {
		rate, err := s.rates.RateFor(ctx, sec.Currency, tx.Date)
		if err != nil {
			return nil, err
		}
		tx.FxRate = &rate
	}

	if err := domain.ValidateTransaction(*tx, *sec); err != nil {
		return nil, err
	}
	return sec, nil
}

// recomputeGroup replays one group from scratch inside the write
// transaction and stages the fresh views.
func (s *Service) recomputeGroup(ctx context.Context, dbtx *sql.Tx, g group) (*Result, error) {
	txs, err := s.txRepo.ListGroup(ctx, dbtx, g.accountID, g.securityIDs)
	if err != nil {
		return nil, err
	}
	res, err := Replay(txs)
	if err != nil {
		return nil, err
	}
	if err := s.viewRepo.ReplaceGroup(ctx, dbtx, res.Views); err != nil {
		return nil, err
	}
	return res, nil
}

// Create records a new event and recomputes its group. The returned value
// carries the freshly computed outputs.
func (s *Service) Create(ctx context.Context, tx domain.Transaction) (*domain.TransactionWithView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sec, err := s.prepare(ctx, &tx)
	if err != nil {
		return nil, err
	}

	g, err := s.resolveGroup(ctx, tx.AccountID, sec)
	if err != nil {
		return nil, err
	}
	unlock := s.lockGroups(g.key)
	defer unlock()

	var res *Result
	err = database.WithTransaction(s.db, func(dbtx *sql.Tx) error {
		if err := s.txRepo.Insert(ctx, dbtx, &tx); err != nil {
			return err
		}
		res, err = s.recomputeGroup(ctx, dbtx, g)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("id", tx.ID).Str("type", string(tx.Kind)).
		Str("date", tx.Date.String()).Msg("Transaction recorded")
	return &domain.TransactionWithView{Transaction: tx, View: res.Views[tx.ID]}, nil
}

// Update applies a partial edit to an event and recomputes every affected
// group. Moving an event between accounts or securities recomputes both the
// old and the new group atomically; an edit whose replay would make any
// event illegal is rejected and rolled back.
func (s *Service) Update(ctx context.Context, id string, patch domain.TransactionPatch) (*domain.TransactionWithView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	old, err := s.txRepo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	oldSec, err := s.securities.GetByID(ctx, old.SecurityID)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(*old)
	// A currency-affecting edit invalidates an inherited rate; drop it and
	// let prepare refill from the rate source.
	if patch.SecurityID != nil && *patch.SecurityID != old.SecurityID && patch.FxRate == nil {
		updated.FxRate = nil
	}
	newSec, err := s.prepare(ctx, &updated)
	if err != nil {
		return nil, err
	}

	oldGroup, err := s.resolveGroup(ctx, old.AccountID, oldSec)
	if err != nil {
		return nil, err
	}
	newGroup, err := s.resolveGroup(ctx, updated.AccountID, newSec)
	if err != nil {
		return nil, err
	}
	unlock := s.lockGroups(oldGroup.key, newGroup.key)
	defer unlock()

	var res *Result
	err = database.WithTransaction(s.db, func(dbtx *sql.Tx) error {
		if err := s.txRepo.Update(ctx, dbtx, updated); err != nil {
			return err
		}
		if oldGroup.key != newGroup.key {
			if _, err := s.recomputeGroup(ctx, dbtx, oldGroup); err != nil {
				return err
			}
		}
		res, err = s.recomputeGroup(ctx, dbtx, newGroup)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("id", id).Msg("Transaction updated")
	return &domain.TransactionWithView{Transaction: updated, View: res.Views[updated.ID]}, nil
}

// Delete removes an event and recomputes its group. Removing an acquisition
// that later sells depend on fails the replay and rolls the delete back.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	old, err := s.txRepo.GetByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	sec, err := s.securities.GetByID(ctx, old.SecurityID)
	if err != nil {
		return err
	}
	g, err := s.resolveGroup(ctx, old.AccountID, sec)
	if err != nil {
		return err
	}
	unlock := s.lockGroups(g.key)
	defer unlock()

	err = database.WithTransaction(s.db, func(dbtx *sql.Tx) error {
		if err := s.txRepo.Delete(ctx, dbtx, id); err != nil {
			return err
		}
		_, err := s.recomputeGroup(ctx, dbtx, g)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Debug().Str("id", id).Msg("Transaction deleted")
	return nil
}

// Get returns one event with its stored computed outputs.
func (s *Service) Get(ctx context.Context, id string) (*domain.TransactionWithView, error) {
	tx, err := s.txRepo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	view, err := s.viewRepo.GetByTransactionID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &domain.TransactionWithView{Transaction: *tx, View: *view}, nil
}

// List returns events in canonical order with their stored computed
// outputs, optionally filtered by account and/or security.
func (s *Service) List(ctx context.Context, accountID, securityID string) ([]domain.TransactionWithView, error) {
	txs, err := s.txRepo.ListAll(ctx, s.db, accountID, securityID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	views, err := s.viewRepo.GetForTransactions(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TransactionWithView, len(txs))
	for i, tx := range txs {
		out[i] = domain.TransactionWithView{Transaction: tx, View: views[tx.ID]}
	}
	return out, nil
}

// Positions returns every currently-held position, optionally filtered by
// account. A group's terminal state is read from the stored view of its
// last event and attributed to that event's security.
func (s *Service) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	txs, err := s.txRepo.ListAll(ctx, s.db, accountID, "")
	if err != nil {
		return nil, err
	}
	secs, err := s.securities.List(ctx)
	if err != nil {
		return nil, err
	}
	baseOf := make(map[string]string, len(secs))
	for _, sec := range secs {
		baseOf[sec.ID] = sec.SymbolBase()
	}

	// txs are in canonical order, so the last event seen per group is the
	// group's terminal event.
	lastTx := make(map[string]domain.Transaction)
	var order []string
	for _, tx := range txs {
		key := tx.AccountID + "\x00" + baseOf[tx.SecurityID]
		if _, seen := lastTx[key]; !seen {
			order = append(order, key)
		}
		lastTx[key] = tx
	}

	positions := make([]domain.Position, 0)
	for _, key := range order {
		tx := lastTx[key]
		view, err := s.viewRepo.GetByTransactionID(ctx, s.db, tx.ID)
		if err != nil {
			if domain.KindOf(err) == domain.ErrNotFound {
				continue
			}
			return nil, err
		}
		if !view.SharesAfter.IsPositive() {
			continue
		}
		positions = append(positions, domain.Position{
			AccountID:   tx.AccountID,
			SecurityID:  tx.SecurityID,
			Shares:      view.SharesAfter,
			Acb:         view.AcbAfter,
			AcbPerShare: view.AcbPerShare,
		})
	}
	return positions, nil
}
