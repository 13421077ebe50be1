package google

import (
	"fmt"
	"strconv"
	"strings"

	"envelopes/internal/core"
)

// JournalHeader names the columns written by journalRow.
var JournalHeader = []any{"ID", "Date", "Kind", "Source ID", "Source", "Destination ID", "Destination", "Amount", "Reference"}

const journalDateLayout = "2006-01-02 15:04:05"

// journalRow lays a transaction out in JournalHeader order. Withdrawals
// leave the destination cells empty.
func journalRow(t core.Transaction) []any {
	row := []any{
		t.ID,
		t.Date.UTC().Format(journalDateLayout),
		string(t.Kind()),
		"", "",
		"", "",
		t.Amount.StringFixed(core.Scale),
		t.Reference,
	}
	if t.Source != nil {
		row[3], row[4] = t.Source.ID, t.Source.Title
	}
	if t.Destination != nil {
		row[5], row[6] = t.Destination.ID, t.Destination.Title
	}
	return row
}

// parseTransactionIDs collects the numeric ids of an id column, skipping
// blanks and anything that is not an id (such as a header cell).
func parseTransactionIDs(values [][]interface{}) []int64 {
	var ids []int64
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(row[0]))
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
