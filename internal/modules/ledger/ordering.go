package ledger

import (
	"sort"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// typeRank resolves same-date ordering between event types. Corporate
// actions (splits) apply before any trading on the day; trading and
// distribution events keep their insertion order, which is what the
// brokerage confirms actually reflect. A same-day buy posted before a sell
// therefore covers it, and a same-day sell posted first is a
// sell-without-holdings.
func typeRank(k domain.TxKind) int {
	if k == domain.KindSplit {
		return 0
	}
	return 1
}

// canonicalLess orders events by (date, typeRank, seq). This is the single
// total order the engine replays in; read paths never re-sort.
func canonicalLess(a, b domain.Transaction) bool {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c < 0
	}
	if ra, rb := typeRank(a.Kind), typeRank(b.Kind); ra != rb {
		return ra < rb
	}
	return a.Seq < b.Seq
}

// SortCanonical sorts events in place into canonical replay order.
func SortCanonical(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return canonicalLess(txs[i], txs[j])
	})
}
