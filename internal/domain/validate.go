package domain

// ValidateTransaction checks the structural constraints of an event against
// the security it references. FX auto-fill happens before validation, so a
// non-CAD event reaching this point without a rate is a hard error.
func ValidateTransaction(t Transaction, sec Security) error {
	if !t.Kind.Valid() {
		return Validationf("unknown transaction type %q", t.Kind)
	}
	if t.Date.IsZero() {
		return Validationf("date is required")
	}
	if t.AccountID == "" {
		return Validationf("accountId is required")
	}
	if t.SecurityID == "" {
		return Validationf("securityId is required")
	}
	if t.Quantity.IsNegative() {
		return Validationf("quantity must not be negative")
	}
	if t.Price.IsNegative() {
		return Validationf("price must not be negative")
	}
	if t.Fees.IsNegative() {
		return Validationf("fees must not be negative")
	}
	if t.FxRate != nil && !t.FxRate.IsPositive() {
		return Validationf("fxRate must be positive")
	}
	// Splits move no money, so they never need a rate.
	if sec.Currency != CAD && t.FxRate == nil && t.Kind != KindSplit {
		return Validationf("fxRate is required for %s securities", sec.Currency)
	}

	switch t.Kind {
	case KindRoc:
		if t.RocPerShare == nil {
			return Validationf("rocPerShare is required for roc transactions")
		}
		if t.RocPerShare.IsNegative() {
			return Validationf("rocPerShare must not be negative")
		}
	case KindSplit:
		if t.Ratio == nil {
			return Validationf("ratio is required for split transactions")
		}
		if !t.Ratio.IsPositive() {
			return Validationf("ratio must be positive")
		}
	}
	return nil
}
