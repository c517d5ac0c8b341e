package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mapleledger/mapleledger/internal/domain"
	"github.com/mapleledger/mapleledger/internal/modules/catalog"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`PRAGMA foreign_keys = ON`)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE securities (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			broker TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE TABLE transactions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			external_id TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			security_id TEXT NOT NULL REFERENCES securities(id) ON DELETE CASCADE,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			fees TEXT NOT NULL,
			fx_rate TEXT,
			roc_per_share TEXT,
			ratio TEXT,
			broker TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX idx_transactions_external
			ON transactions(account_id, external_id) WHERE external_id != '';
		CREATE TABLE transaction_views (
			transaction_id TEXT PRIMARY KEY REFERENCES transactions(id) ON DELETE CASCADE,
			shares_after TEXT NOT NULL,
			acb_after TEXT NOT NULL,
			acb_per_share TEXT NOT NULL,
			proceeds TEXT,
			acb_used TEXT,
			capital_gain TEXT,
			superficial_loss_deferred TEXT,
			income_cad TEXT
		);
	`)
	require.NoError(t, err)
	return db
}

// stubRates is a fixed-rate RateSource recording its lookups.
type stubRates struct {
	rate  decimal.Decimal
	calls int
	fail  bool
}

func (s *stubRates) RateFor(_ context.Context, _ domain.Currency, _ domain.Date) (decimal.Decimal, error) {
	s.calls++
	if s.fail {
		return decimal.Zero, domain.Dependencyf(fmt.Errorf("stub outage"), "rate source unavailable")
	}
	return s.rate, nil
}

type testEnv struct {
	db      *sql.DB
	service *Service
	rates   *stubRates
	secRepo *catalog.SecurityRepository
	cadSec  domain.Security
	usdSec  domain.Security
	account domain.Account
}

func setupService(t *testing.T) *testEnv {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	secRepo := catalog.NewSecurityRepository(db, log)
	accRepo := catalog.NewAccountRepository(db, log)
	rates := &stubRates{rate: decimal.NewFromFloat(1.35)}

	env := &testEnv{
		db:      db,
		rates:   rates,
		secRepo: secRepo,
		cadSec:  domain.Security{Symbol: "XIC.TO", Name: "Test CAD ETF", Currency: domain.CAD, Type: "etf"},
		usdSec:  domain.Security{Symbol: "VTI", Name: "Test USD ETF", Currency: domain.USD, Type: "etf"},
		account: domain.Account{Name: "Test Account", Type: "non-registered"},
	}

	ctx := context.Background()
	require.NoError(t, secRepo.Create(ctx, &env.cadSec))
	require.NoError(t, secRepo.Create(ctx, &env.usdSec))
	require.NoError(t, accRepo.Create(ctx, &env.account))

	txRepo := NewTransactionRepository(db, log)
	viewRepo := NewViewRepository(db, log)
	env.service = NewService(db, txRepo, viewRepo, secRepo, rates, 30*time.Second, log)
	return env
}

func (e *testEnv) post(t *testing.T, date string, kind domain.TxKind, secID string, qty, price, fees float64) *domain.TransactionWithView {
	t.Helper()
	res, err := e.service.Create(context.Background(), domain.Transaction{
		Date:       domain.MustDate(date),
		Kind:       kind,
		AccountID:  e.account.ID,
		SecurityID: secID,
		Quantity:   decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(price),
		Fees:       decimal.NewFromFloat(fees),
	})
	require.NoError(t, err)
	return res
}

func TestServiceCreateComputesView(t *testing.T) {
	env := setupService(t)

	buy := env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 10)
	assert.True(t, buy.AcbAfter.Equal(decimal.NewFromInt(5010)))
	assert.NotEmpty(t, buy.ID)
	assert.Positive(t, buy.Seq)

	sell := env.post(t, "2024-02-15", domain.KindSell, env.cadSec.ID, 100, 60, 10)
	require.NotNil(t, sell.CapitalGain)
	assert.True(t, sell.CapitalGain.Equal(decimal.NewFromInt(980)))
	assert.True(t, sell.AcbAfter.IsZero())
}

func TestServiceRejectsOversell(t *testing.T) {
	env := setupService(t)
	env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)

	_, err := env.service.Create(context.Background(), domain.Transaction{
		Date:       domain.MustDate("2024-02-15"),
		Kind:       domain.KindSell,
		AccountID:  env.account.ID,
		SecurityID: env.cadSec.ID,
		Quantity:   decimal.NewFromInt(150),
		Price:      decimal.NewFromInt(60),
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrLegality, domain.KindOf(err))

	// The rejected sell must not survive the rollback.
	txs, err := env.service.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestServiceDuplicateExternalID(t *testing.T) {
	env := setupService(t)

	mk := func() domain.Transaction {
		return domain.Transaction{
			ExternalID: "BROKER-REF-1",
			Date:       domain.MustDate("2024-01-15"),
			Kind:       domain.KindBuy,
			AccountID:  env.account.ID,
			SecurityID: env.cadSec.ID,
			Quantity:   decimal.NewFromInt(100),
			Price:      decimal.NewFromInt(50),
		}
	}

	_, err := env.service.Create(context.Background(), mk())
	require.NoError(t, err)

	_, err = env.service.Create(context.Background(), mk())
	require.Error(t, err)
	assert.Equal(t, domain.ErrDuplicate, domain.KindOf(err))
}

func TestServiceFxAutofill(t *testing.T) {
	env := setupService(t)

	buy, err := env.service.Create(context.Background(), domain.Transaction{
		Date:       domain.MustDate("2024-01-15"),
		Kind:       domain.KindBuy,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	require.NotNil(t, buy.FxRate)
	assert.True(t, buy.FxRate.Equal(decimal.NewFromFloat(1.35)))
	assert.Equal(t, 1, env.rates.calls)
	// 100 * 50 * 1.35
	assert.True(t, buy.AcbAfter.Equal(decimal.NewFromInt(6750)))
}

func TestServiceFxExplicitRateSkipsLookup(t *testing.T) {
	env := setupService(t)

	rate := decimal.NewFromFloat(1.40)
	_, err := env.service.Create(context.Background(), domain.Transaction{
		Date:       domain.MustDate("2024-01-15"),
		Kind:       domain.KindBuy,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(50),
		FxRate:     &rate,
	})
	require.NoError(t, err)
	assert.Zero(t, env.rates.calls)
}

func TestServiceFxSourceFailure(t *testing.T) {
	env := setupService(t)
	env.rates.fail = true

	_, err := env.service.Create(context.Background(), domain.Transaction{
		Date:       domain.MustDate("2024-01-15"),
		Kind:       domain.KindBuy,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(50),
	})
	require.Error(t, err)
	assert.Equal(t, domain.ErrDependency, domain.KindOf(err))
}

func TestServiceUsdSplitWithoutRate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	rate := decimal.NewFromFloat(1.25)
	_, err := env.service.Create(ctx, domain.Transaction{
		Date:       domain.MustDate("2024-01-15"),
		Kind:       domain.KindBuy,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(50),
		FxRate:     &rate,
	})
	require.NoError(t, err)

	// A split on a USD security needs no rate and triggers no lookup.
	ratio := decimal.NewFromInt(2)
	split, err := env.service.Create(ctx, domain.Transaction{
		Date:       domain.MustDate("2024-02-01"),
		Kind:       domain.KindSplit,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Ratio:      &ratio,
	})
	require.NoError(t, err)
	assert.Zero(t, env.rates.calls)
	assert.True(t, split.SharesAfter.Equal(decimal.NewFromInt(200)))
	assert.True(t, split.AcbAfter.Equal(decimal.NewFromInt(6250)))

	// Selling more than the pre-split count is legal after the split.
	sell, err := env.service.Create(ctx, domain.Transaction{
		Date:       domain.MustDate("2024-03-01"),
		Kind:       domain.KindSell,
		AccountID:  env.account.ID,
		SecurityID: env.usdSec.ID,
		Quantity:   decimal.NewFromInt(150),
		Price:      decimal.NewFromInt(40),
		FxRate:     &rate,
	})
	require.NoError(t, err)
	assert.True(t, sell.SharesAfter.Equal(decimal.NewFromInt(50)))
}

func TestServiceUpdateDateRecomputes(t *testing.T) {
	env := setupService(t)

	env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)
	env.post(t, "2024-02-15", domain.KindSell, env.cadSec.ID, 100, 40, 0)
	rebuy := env.post(t, "2024-04-20", domain.KindBuy, env.cadSec.ID, 100, 38, 0)

	// Outside the window: plain cost.
	assert.True(t, rebuy.AcbAfter.Equal(decimal.NewFromInt(3800)))

	// Moving the rebuy into the window turns the loss superficial and
	// shifts it into this buy's ACB.
	newDate := domain.MustDate("2024-02-20")
	updated, err := env.service.Update(context.Background(), rebuy.ID, domain.TransactionPatch{Date: &newDate})
	require.NoError(t, err)
	assert.True(t, updated.AcbAfter.Equal(decimal.NewFromInt(4800)))

	got, err := env.service.Get(context.Background(), rebuy.ID)
	require.NoError(t, err)
	assert.True(t, got.AcbAfter.Equal(decimal.NewFromInt(4800)))
}

func TestServiceUpdateRejectsIllegalReorder(t *testing.T) {
	env := setupService(t)

	env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)
	sell := env.post(t, "2024-02-15", domain.KindSell, env.cadSec.ID, 100, 60, 0)

	// Moving the sell before the buy would sell shares that do not exist
	// yet; the edit is rejected and the stored date is unchanged.
	badDate := domain.MustDate("2024-01-01")
	_, err := env.service.Update(context.Background(), sell.ID, domain.TransactionPatch{Date: &badDate})
	require.Error(t, err)
	assert.Equal(t, domain.ErrLegality, domain.KindOf(err))

	got, err := env.service.Get(context.Background(), sell.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-15", got.Date.String())
}

func TestServiceDeleteRecomputes(t *testing.T) {
	env := setupService(t)

	buy1 := env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)
	buy2 := env.post(t, "2024-02-15", domain.KindBuy, env.cadSec.ID, 100, 60, 0)

	require.NoError(t, env.service.Delete(context.Background(), buy1.ID))

	got, err := env.service.Get(context.Background(), buy2.ID)
	require.NoError(t, err)
	assert.True(t, got.AcbAfter.Equal(decimal.NewFromInt(6000)))
	assert.True(t, got.SharesAfter.Equal(decimal.NewFromInt(100)))
}

func TestServiceDeleteRejectedWhenHistoryBreaks(t *testing.T) {
	env := setupService(t)

	buy := env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)
	env.post(t, "2024-02-15", domain.KindSell, env.cadSec.ID, 100, 60, 0)

	err := env.service.Delete(context.Background(), buy.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ErrLegality, domain.KindOf(err))

	// Rollback kept both events.
	txs, err := env.service.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestServicePositions(t *testing.T) {
	env := setupService(t)

	env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 100, 50, 0)
	env.post(t, "2024-02-15", domain.KindSell, env.cadSec.ID, 40, 60, 0)

	// Fully liquidated position must not appear.
	rate := decimal.NewFromFloat(1.35)
	for _, kind := range []domain.TxKind{domain.KindBuy, domain.KindSell} {
		_, err := env.service.Create(context.Background(), domain.Transaction{
			Date:       domain.MustDate("2024-03-15"),
			Kind:       kind,
			AccountID:  env.account.ID,
			SecurityID: env.usdSec.ID,
			Quantity:   decimal.NewFromInt(10),
			Price:      decimal.NewFromInt(100),
			FxRate:     &rate,
		})
		require.NoError(t, err)
	}

	positions, err := env.service.Positions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, env.cadSec.ID, pos.SecurityID)
	assert.True(t, pos.Shares.Equal(decimal.NewFromInt(60)))
	assert.True(t, pos.Acb.Equal(decimal.NewFromInt(3000)))

	// Filter by a different account yields nothing.
	none, err := env.service.Positions(context.Background(), "other-account")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestServiceJournalledListingsShareOnePosition(t *testing.T) {
	env := setupService(t)

	ctx := context.Background()
	dlrCad := domain.Security{Symbol: "DLR.TO", Name: "DLR CAD", Currency: domain.CAD, Type: "etf"}
	dlrUsd := domain.Security{Symbol: "DLR.U", Name: "DLR USD", Currency: domain.USD, Type: "etf"}
	require.NoError(t, env.secRepo.Create(ctx, &dlrCad))
	require.NoError(t, env.secRepo.Create(ctx, &dlrUsd))

	// Norbert's gambit: buy the CAD listing, journal, sell the USD listing.
	env.post(t, "2024-01-15", domain.KindBuy, dlrCad.ID, 100, 13.50, 0)

	rate := decimal.NewFromFloat(1.35)
	sell, err := env.service.Create(ctx, domain.Transaction{
		Date:       domain.MustDate("2024-01-18"),
		Kind:       domain.KindSell,
		AccountID:  env.account.ID,
		SecurityID: dlrUsd.ID,
		Quantity:   decimal.NewFromInt(100),
		Price:      decimal.NewFromInt(10),
		FxRate:     &rate,
	})
	require.NoError(t, err)
	assert.True(t, sell.SharesAfter.IsZero())

	positions, err := env.service.Positions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestServiceListCanonicalOrder(t *testing.T) {
	env := setupService(t)

	late := env.post(t, "2024-03-15", domain.KindBuy, env.cadSec.ID, 10, 50, 0)
	early := env.post(t, "2024-01-15", domain.KindBuy, env.cadSec.ID, 10, 50, 0)

	txs, err := env.service.List(context.Background(), env.account.ID, "")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, early.ID, txs[0].ID)
	assert.Equal(t, late.ID, txs[1].ID)
}

func TestServiceGetUnknownID(t *testing.T) {
	env := setupService(t)
	_, err := env.service.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrNotFound, domain.KindOf(err))
}
