// Package domain holds the core types of the ACB ledger engine: calendar
// dates, fixed-precision money helpers, securities, accounts, transactions
// and their computed views. The package is pure - no I/O, no infrastructure
// dependencies - so the replay engine built on top of it can be tested in
// isolation.
package domain

import "github.com/shopspring/decimal"

func init() {
	// Monetary fields go over the wire as JSON numbers, not strings.
	// Precision is preserved because values are rounded to fixed scale
	// before serialisation.
	decimal.MarshalJSONWithoutQuotes = true
}

// Monetary scale policy: computation carries full decimal precision,
// rounding happens only at output boundaries.
const (
	// CashScale is the number of fractional digits for CAD amounts at
	// output boundaries.
	CashScale = 2
	// ShareScale is the number of fractional digits for share quantities
	// at output boundaries.
	ShareScale = 6
)

// One is the neutral FX rate applied to CAD-denominated events.
var One = decimal.NewFromInt(1)

// RoundCash rounds a CAD amount to cents using banker's rounding.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CashScale)
}

// RoundShares rounds a share quantity to six fractional digits using
// banker's rounding.
func RoundShares(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ShareScale)
}

// ToCAD converts a native-currency amount to CAD at the given rate.
func ToCAD(native, fxRate decimal.Decimal) decimal.Decimal {
	return native.Mul(fxRate)
}
