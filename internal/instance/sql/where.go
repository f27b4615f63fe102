package sql

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// whereClause builds a "WHERE ..." fragment (or "" if there are no
// conditions) plus its bound arguments, covering the half-open
// datetime window [begin, end) and an equality params filter — the
// same two predicates get_sync_time, get_rowcount, get_data, and
// clear_pipe all apply per spec section 4.2.
func whereClause(f Flavor, datetimeCol string, begin, end *time.Time, params map[string]any, startArg int) (string, []any) {
	var conds []string
	var args []any
	n := startArg

	if datetimeCol != "" {
		if begin != nil {
			conds = append(conds, fmt.Sprintf("%s >= %s", f.QuoteIdentifier(datetimeCol), f.Placeholder(n)))
			args = append(args, *begin)
			n++
		}
		if end != nil {
			conds = append(conds, fmt.Sprintf("%s < %s", f.QuoteIdentifier(datetimeCol), f.Placeholder(n)))
			args = append(args, *end)
			n++
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, col := range keys {
		conds = append(conds, fmt.Sprintf("%s = %s", f.QuoteIdentifier(col), f.Placeholder(n)))
		args = append(args, params[col])
		n++
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
