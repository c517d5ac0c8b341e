// Package ledger implements the chronological ACB event engine: the event
// store, the canonical ordering, the pure replay function with the
// superficial-loss pass, and the mutation coordinator that keeps derived
// views consistent with the raw event truth.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// superficialLossWindowDays is the CRA window on each side of a
// disposition: a loss is superficial when identical property is acquired
// within [sellDate-30, sellDate+30] and some of it is still held at the
// window close.
const superficialLossWindowDays = 30

// Result is the outcome of replaying one slice from scratch.
type Result struct {
	// Views holds the computed output for every event, keyed by id.
	Views map[string]domain.View
	// Shares and Acb are the terminal running state, unrounded.
	Shares decimal.Decimal
	Acb    decimal.Decimal
}

// Replay runs the two-phase replay over an ordered event list and returns
// the per-event computed views and terminal state. It is pure: no I/O, no
// clock, fully deterministic, so any incremental history of writes reaching
// the same event set yields identical outputs.
//
// Phase one walks the list maintaining running (shares, acb). Phase two is
// the superficial-loss adjustment: for each sell realising a loss it
// measures the replacement shares in the 61-day window, defers the denied
// fraction of the loss, and shifts it into the ACB of the replacement
// acquisitions in order of acquisition. Because replacements follow their
// sell in canonical order, the deferred cost is known before the walk
// reaches them, and downstream ACB (later sells' acbUsed) reflects it.
//
// A sell that would drive the position negative aborts the replay with a
// legality error; the coordinator rolls the triggering write back.
func Replay(txs []domain.Transaction) (*Result, error) {
	res := &Result{
		Views:  make(map[string]domain.View, len(txs)),
		Shares: decimal.Zero,
		Acb:    decimal.Zero,
	}

	// Deferred superficial-loss cost assigned to future acquisitions,
	// keyed by canonical index. CAD.
	extraCost := make(map[int]decimal.Decimal)

	for i, tx := range txs {
		var view domain.View

		switch tx.Kind {
		case domain.KindBuy, domain.KindDrip:
			cost := domain.ToCAD(tx.Quantity.Mul(tx.Price).Add(tx.Fees), tx.Fx())
			if extra, ok := extraCost[i]; ok {
				cost = cost.Add(extra)
			}
			res.Shares = res.Shares.Add(tx.Quantity)
			res.Acb = res.Acb.Add(cost)

		case domain.KindSell:
			if res.Shares.LessThan(tx.Quantity) {
				return nil, domain.Legalityf(
					"sell of %s shares on %s exceeds holdings of %s",
					tx.Quantity, tx.Date, res.Shares)
			}
			proceeds := domain.ToCAD(tx.Quantity.Mul(tx.Price).Sub(tx.Fees), tx.Fx())
			acbUsed := decimal.Zero
			if res.Shares.IsPositive() {
				acbUsed = res.Acb.Mul(tx.Quantity).Div(res.Shares)
			}
			rawGain := proceeds.Sub(acbUsed)

			deferred := decimal.Zero
			if rawGain.IsNegative() && tx.Quantity.IsPositive() {
				deferred = deferSuperficialLoss(txs, i, res.Shares.Sub(tx.Quantity), rawGain, extraCost)
			}
			gain := rawGain.Add(deferred)

			res.Shares = res.Shares.Sub(tx.Quantity)
			res.Acb = res.Acb.Sub(acbUsed)
			if res.Shares.IsZero() {
				// Discard division residue; a later buy reseeds from scratch.
				res.Acb = decimal.Zero
			}

			view.Proceeds = roundedPtr(proceeds)
			view.AcbUsed = roundedPtr(acbUsed)
			view.CapitalGain = roundedPtr(gain)
			view.SuperficialLossDeferred = roundedPtr(deferred)

		case domain.KindDividend:
			income := domain.ToCAD(tx.Quantity.Mul(tx.Price), tx.Fx())
			view.IncomeCAD = roundedPtr(income)

		case domain.KindRoc:
			roc := domain.ToCAD(tx.Quantity.Mul(*tx.RocPerShare), tx.Fx())
			res.Acb = res.Acb.Sub(roc)
			if res.Acb.IsNegative() {
				// ROC past zero is an immediate capital gain.
				view.CapitalGain = roundedPtr(res.Acb.Neg())
				res.Acb = decimal.Zero
			}

		case domain.KindSplit:
			res.Shares = res.Shares.Mul(*tx.Ratio)

		default:
			return nil, domain.Validationf("unknown transaction type %q", tx.Kind)
		}

		view.SharesAfter = domain.RoundShares(res.Shares)
		view.AcbAfter = domain.RoundCash(res.Acb)
		if res.Shares.IsPositive() {
			view.AcbPerShare = domain.RoundCash(res.Acb.Div(res.Shares))
		} else {
			view.AcbPerShare = decimal.Zero
		}
		res.Views[tx.ID] = view
	}

	return res, nil
}

// deferSuperficialLoss evaluates the superficial-loss rule for the sell at
// canonical index sellIdx whose raw loss is rawGain (negative). It returns
// the deferred (denied) portion and records the cost shift into extraCost
// for the replacement acquisitions, distributed in acquisition order
// weighted by the replacement shares each absorbs.
//
// Replacement shares = min(shares sold, shares acquired in the window at or
// after the sell, shares still held at sellDate+30).
func deferSuperficialLoss(txs []domain.Transaction, sellIdx int, sharesAfterSell, rawGain decimal.Decimal, extraCost map[int]decimal.Decimal) decimal.Decimal {
	sell := txs[sellIdx]
	windowEnd := sell.Date.AddDays(superficialLossWindowDays)

	// Shares acquired in the window and shares held at window close, read
	// ahead from the ordered slice. Only quantities matter here, so the
	// look-ahead is unaffected by cost adjustments.
	acquired := decimal.Zero
	held := sharesAfterSell
	for _, tx := range txs[sellIdx+1:] {
		if tx.Date.After(windowEnd) {
			break
		}
		switch tx.Kind {
		case domain.KindBuy, domain.KindDrip:
			acquired = acquired.Add(tx.Quantity)
			held = held.Add(tx.Quantity)
		case domain.KindSell:
			held = held.Sub(tx.Quantity)
		case domain.KindSplit:
			held = held.Mul(*tx.Ratio)
		}
	}

	replacement := decimal.Min(sell.Quantity, acquired, held)
	if !replacement.IsPositive() {
		return decimal.Zero
	}

	deferred := rawGain.Abs().Mul(replacement).Div(sell.Quantity)

	// Shift the denied loss into the replacement acquisitions, first
	// acquired first, pro-rata by absorbed shares.
	remaining := replacement
	for j := sellIdx + 1; j < len(txs) && remaining.IsPositive(); j++ {
		tx := txs[j]
		if tx.Date.After(windowEnd) {
			break
		}
		if !tx.Kind.Acquires() || !tx.Quantity.IsPositive() {
			continue
		}
		absorbed := decimal.Min(tx.Quantity, remaining)
		share := deferred.Mul(absorbed).Div(replacement)
		extraCost[j] = extraCost[j].Add(share)
		remaining = remaining.Sub(absorbed)
	}

	return deferred
}

func roundedPtr(d decimal.Decimal) *decimal.Decimal {
	r := domain.RoundCash(d)
	return &r
}
