package exporter

import (
	"strconv"

	"divecli/internal/cache"
	"divecli/pkg/contracts/events"
)

// Table is a header row and data rows, the shape every export format writes
type Table struct {
	Headers []string
	Rows    [][]string
	// Numeric marks columns written as numbers in spreadsheets
	Numeric map[int]bool
}

// CountsTable renders one row per stack count
func CountsTable(counts []events.StackCount) Table {
	t := Table{
		Headers: []string{"stack", "name", "query_id", "count"},
		Rows:    make([][]string, 0, len(counts)),
		Numeric: map[int]bool{0: true, 3: true},
	}
	for _, c := range counts {
		t.Rows = append(t.Rows, []string{strconv.Itoa(c.Stack), c.Name, c.QueryID, formatInt(c.Count)})
	}
	return t
}

// OverlapTable renders one row per experiment and one count column per
// stack. Stack columns are named after the first experiment's counts.
func OverlapTable(rows []events.ExperimentCounts) Table {
	t := Table{Headers: []string{"experiment", "query_id"}, Numeric: map[int]bool{}}
	if len(rows) == 0 {
		return t
	}
	columns := make(map[int]int)
	for _, c := range rows[0].Counts {
		columns[c.Stack] = len(t.Headers)
		t.Numeric[len(t.Headers)] = true
		t.Headers = append(t.Headers, c.Name)
	}
	for _, r := range rows {
		row := make([]string, len(t.Headers))
		row[0], row[1] = r.Experiment, r.QueryID
		for _, c := range r.Counts {
			if col, ok := columns[c.Stack]; ok {
				row[col] = formatInt(c.Count)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// SelectionTable renders the operation history of every stack
func SelectionTable(stacks []events.StackView) Table {
	t := Table{
		Headers: []string{"stack", "stack_id", "step", "kind", "name", "query_id", "fingerprint"},
		Numeric: map[int]bool{0: true, 2: true},
	}
	for i, s := range stacks {
		for step, op := range s.History {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(i), s.ID, strconv.Itoa(step), op.Kind, op.Name, op.QueryID, op.Fingerprint,
			})
		}
	}
	return t
}

// CacheStatsTable renders the hit and miss counters of every cache
func CacheStatsTable(stats []cache.Stats) Table {
	t := Table{
		Headers: []string{"cache", "entries", "max_entries", "hits", "misses", "hit_ratio"},
		Numeric: map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true},
	}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{
			s.Name,
			strconv.Itoa(s.Entries),
			strconv.Itoa(s.MaxEntries),
			formatInt(s.Hits),
			formatInt(s.Misses),
			formatFloat(s.HitRatio),
		})
	}
	return t
}
