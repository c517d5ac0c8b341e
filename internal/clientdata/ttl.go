package clientdata

import "time"

// Cache lifetimes per data class. Historical FX rates never change once
// published, so the TTL is generous; the same-day rate is refreshed by the
// nightly prefetch job anyway.
const (
	TTLFxRateHistorical = 90 * 24 * time.Hour
	TTLFxRateToday      = 6 * time.Hour
)
