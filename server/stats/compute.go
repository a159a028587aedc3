package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/storage"
)

// DefaultBins is the number of bins of a numerical histogram
const DefaultBins = 10

// Column names one stored column to summarize
type Column struct {
	Group schema.TableGroup
	Table string
	Name  string
	// Label is the stat name, defaulting to the column name
	Label string
}

// Compute builds the histogram of a column per split. Numeric columns are
// binned into equal-width bins over the range of all splits; text and
// boolean columns are counted per value. Null cells are skipped.
func Compute(reader storage.Reader, col Column, bins int) (DatasetStat, error) {
	if bins <= 0 {
		bins = DefaultBins
	}
	label := col.Label
	if label == "" {
		label = col.Name
	}

	columns, err := reader.Columns(col.Group, col.Table)
	if err != nil {
		return DatasetStat{}, err
	}
	kind := schema.KindUnknown
	for _, f := range columns {
		if f.Name == col.Name {
			kind = schema.Classify(f.Type)
			break
		}
	}
	if kind == schema.KindUnknown {
		return DatasetStat{}, errors.New(ErrUnsupportedColumn, "column is missing or not scalar", nil).
			AddContext("table", col.Table).
			AddContext("column", col.Name)
	}

	splits, err := reader.Splits(col.Group, col.Table)
	if err != nil {
		return DatasetStat{}, err
	}
	values := make(map[string][]any, len(splits))
	for _, split := range splits {
		rows, err := reader.Scan(col.Group, col.Table, storage.Filter{Split: split})
		if err != nil {
			return DatasetStat{}, err
		}
		for row := range rows {
			if v := row[col.Name]; v != nil {
				values[split] = append(values[split], v)
			}
		}
	}

	if kind == schema.KindNumber {
		return numerical(label, splits, values, bins), nil
	}
	return categorical(label, splits, values), nil
}

func numerical(label string, splits []string, values map[string][]any, bins int) DatasetStat {
	stat := DatasetStat{Name: label, Type: Numerical, Histogram: []map[string]any{}}

	lo, hi := math.Inf(1), math.Inf(-1)
	nums := make(map[string][]float64, len(values))
	for split, vs := range values {
		for _, v := range vs {
			f, ok := toFloat(v)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				continue
			}
			nums[split] = append(nums[split], f)
			lo, hi = min(lo, f), max(hi, f)
		}
	}
	if math.IsInf(lo, 1) {
		return stat
	}
	stat.Range = []float64{lo, hi}

	// divided first so ranges near the float limits do not overflow
	width := hi/float64(bins) - lo/float64(bins)
	if width == 0 {
		bins, width = 1, 1
	}

	for _, split := range splits {
		if len(nums[split]) == 0 {
			continue
		}
		counts := make([]int, bins)
		for _, f := range nums[split] {
			counts[binIndex(f, lo, width, bins)]++
		}
		for i, n := range counts {
			stat.Histogram = append(stat.Histogram, map[string]any{
				"bin_start": binEdge(i, lo, hi, width, bins),
				"bin_end":   binEdge(i+1, lo, hi, width, bins),
				"counts":    n,
				"split":     split,
			})
		}
	}
	return stat
}

func binIndex(f, lo, width float64, bins int) int {
	idx := (f - lo) / width
	if math.IsInf(idx, 0) || math.IsNaN(idx) {
		idx = f/width - lo/width
	}
	if idx >= float64(bins-1) || math.IsNaN(idx) {
		return bins - 1
	}
	return max(int(idx), 0)
}

// binEdge returns the lower edge of bin i, bins being the upper edge of
// the last one
func binEdge(i int, lo, hi, width float64, bins int) float64 {
	if i >= bins {
		return max(hi, lo+width)
	}
	e := lo + float64(i)*width
	if math.IsInf(e, 0) {
		t := float64(i) / float64(bins)
		e = lo*(1-t) + hi*t
	}
	return e
}

func categorical(label string, splits []string, values map[string][]any) DatasetStat {
	stat := DatasetStat{Name: label, Type: Categorical, Histogram: []map[string]any{}}

	for _, split := range splits {
		counts := make(map[string]int)
		first := make(map[string]any)
		for _, v := range values[split] {
			key := fmt.Sprint(v)
			if _, ok := first[key]; !ok {
				first[key] = v
			}
			counts[key]++
		}

		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			stat.Histogram = append(stat.Histogram, map[string]any{
				label:    first[k],
				"counts": counts[k],
				"split":  split,
			})
		}
	}
	return stat
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
