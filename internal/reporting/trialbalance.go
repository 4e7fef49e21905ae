package reporting

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/ledger"
)

// TrialBalanceGroup aggregates rows for presentation.
type TrialBalanceGroup struct {
	Key     string
	Rows    []ledger.TrialBalanceRow
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

// GroupedTrialBalance is the trial balance shaped for rendering:
// rows grouped by account-code prefix with group and grand totals.
type GroupedTrialBalance struct {
	Groups       []TrialBalanceGroup
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

// groupKey derives the grouping prefix from an account code.
func groupKey(code string) string {
	if idx := strings.Index(code, "."); idx > 0 {
		return code[:idx]
	}
	if len(code) >= 2 {
		return code[:2]
	}
	return code
}

// GroupTrialBalance shapes a ledger trial balance into presentation
// groups. Pure function, no state.
func GroupTrialBalance(tb ledger.TrialBalance) GroupedTrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, row := range tb.Rows {
		key := groupKey(row.Code)
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key, Debits: decimal.Zero, Credits: decimal.Zero}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Rows = append(grp.Rows, row)
		if row.Side == ledger.SideDebit {
			grp.Debits = grp.Debits.Add(row.Balance)
		} else {
			grp.Credits = grp.Credits.Add(row.Balance)
		}
	}

	sort.Strings(keys)
	result := GroupedTrialBalance{TotalDebits: tb.TotalDebits, TotalCredits: tb.TotalCredits}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Rows, func(i, j int) bool {
			return grp.Rows[i].Code < grp.Rows[j].Code
		})
		result.Groups = append(result.Groups, *grp)
	}
	return result
}
