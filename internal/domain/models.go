package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code. The engine reports in CAD; USD events are
// converted per event at their own rate.
type Currency string

const (
	CAD Currency = "CAD"
	USD Currency = "USD"
)

// Security is a catalog entry. Events reference it by id; its currency
// decides whether FX conversion applies.
type Security struct {
	ID       string   `json:"id"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Currency Currency `json:"currency"`
	Type     string   `json:"type"`
}

// SymbolBase strips the exchange / listing suffix from the symbol:
// "DLR.TO" and "DLR.U" both yield "DLR". Dual CAD/USD listings of the same
// fund (Norbert's gambit pairs) share a base and are journalled into one
// position; see ledger.Service.
func (s Security) SymbolBase() string {
	if i := strings.IndexByte(s.Symbol, '.'); i > 0 {
		return s.Symbol[:i]
	}
	return s.Symbol
}

// Account scopes events. Broker is a free-form tag carried on individual
// events, not on the account.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Broker string `json:"broker,omitempty"`
}

// TxKind enumerates the ledger event types.
type TxKind string

const (
	KindBuy      TxKind = "buy"
	KindSell     TxKind = "sell"
	KindDividend TxKind = "dividend"
	KindDrip     TxKind = "drip"
	KindRoc      TxKind = "roc"
	KindSplit    TxKind = "split"
)

// Valid reports whether k is a known event type.
func (k TxKind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindDividend, KindDrip, KindRoc, KindSplit:
		return true
	}
	return false
}

// Acquires reports whether the event adds shares to the position. Only
// acquiring events can absorb a deferred superficial loss.
func (k TxKind) Acquires() bool {
	return k == KindBuy || k == KindDrip
}

// Transaction is a raw ledger event - the persisted truth. Computed outputs
// live in View and are recomputable from the ordered event list.
type Transaction struct {
	ID          string           `json:"id"`
	ExternalID  string           `json:"externalId,omitempty"`
	Date        Date             `json:"date"`
	Seq         int64            `json:"seq"`
	Kind        TxKind           `json:"type"`
	AccountID   string           `json:"accountId"`
	SecurityID  string           `json:"securityId"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	Fees        decimal.Decimal  `json:"fees"`
	FxRate      *decimal.Decimal `json:"fxRate,omitempty"`
	RocPerShare *decimal.Decimal `json:"rocPerShare,omitempty"`
	Ratio       *decimal.Decimal `json:"ratio,omitempty"`
	Broker      string           `json:"broker,omitempty"`
}

// Fx returns the event's native-to-CAD rate, defaulting to 1 for events
// without an explicit rate (CAD securities).
func (t Transaction) Fx() decimal.Decimal {
	if t.FxRate != nil {
		return *t.FxRate
	}
	return One
}

// TransactionPatch is a partial update. Nil fields are left untouched.
type TransactionPatch struct {
	ExternalID  *string          `json:"externalId"`
	Date        *Date            `json:"date"`
	Kind        *TxKind          `json:"type"`
	AccountID   *string          `json:"accountId"`
	SecurityID  *string          `json:"securityId"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Price       *decimal.Decimal `json:"price"`
	Fees        *decimal.Decimal `json:"fees"`
	FxRate      *decimal.Decimal `json:"fxRate"`
	RocPerShare *decimal.Decimal `json:"rocPerShare"`
	Ratio       *decimal.Decimal `json:"ratio"`
	Broker      *string          `json:"broker"`
}

// Apply merges the patch into a copy of t.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.ExternalID != nil {
		t.ExternalID = *p.ExternalID
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.SecurityID != nil {
		t.SecurityID = *p.SecurityID
	}
	if p.Quantity != nil {
		t.Quantity = *p.Quantity
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	if p.Fees != nil {
		t.Fees = *p.Fees
	}
	if p.FxRate != nil {
		t.FxRate = p.FxRate
	}
	if p.RocPerShare != nil {
		t.RocPerShare = p.RocPerShare
	}
	if p.Ratio != nil {
		t.Ratio = p.Ratio
	}
	if p.Broker != nil {
		t.Broker = *p.Broker
	}
	return t
}

// View is the per-event computed output of a replay. All monetary values
// are CAD, rounded to cents; share counts are rounded to six digits.
// Pointer fields are present only where the event type produces them.
type View struct {
	SharesAfter decimal.Decimal `json:"sharesAfter"`
	AcbAfter    decimal.Decimal `json:"acbAfter"`
	AcbPerShare decimal.Decimal `json:"acbPerShare"`

	// Sell outputs.
	Proceeds                *decimal.Decimal `json:"proceeds,omitempty"`
	AcbUsed                 *decimal.Decimal `json:"acbUsed,omitempty"`
	CapitalGain             *decimal.Decimal `json:"capitalGain,omitempty"`
	SuperficialLossDeferred *decimal.Decimal `json:"superficialLossDeferred,omitempty"`

	// Dividend cash amount, informational for ACB but consumed by income
	// reporting downstream.
	IncomeCAD *decimal.Decimal `json:"incomeCad,omitempty"`
}

// TransactionWithView is the wire shape of a ledger event: raw fields plus
// the computed outputs of the last replay.
type TransactionWithView struct {
	Transaction
	View
}

// Position is a currently-held (account, security) aggregate.
type Position struct {
	AccountID   string          `json:"accountId"`
	SecurityID  string          `json:"securityId"`
	Shares      decimal.Decimal `json:"shares"`
	Acb         decimal.Decimal `json:"acb"`
	AcbPerShare decimal.Decimal `json:"acbPerShare"`
}
