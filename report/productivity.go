package report

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

type ProductivityGroupBy string

const (
	ProductivityByTanker ProductivityGroupBy = "tanker"
	ProductivityByDriver ProductivityGroupBy = "driver"
)

// ParseProductivityGroupBy defaults to tanker.
func ParseProductivityGroupBy(s string) (ProductivityGroupBy, error) {
	switch g := ProductivityGroupBy(s); g {
	case "":
		return ProductivityByTanker, nil
	case ProductivityByTanker, ProductivityByDriver:
		return g, nil
	}
	return "", &dispatch.ValidationError{Field: "groupBy", Message: fmt.Sprintf("unknown grouping %q", s)}
}

type ProductivityRow struct {
	Key             string          `json:"key"`
	Label           string          `json:"label"`
	Runs            int             `json:"runs"`
	UpliftTotal     decimal.Decimal `json:"uplift_total"`
	DeliveredTotal  decimal.Decimal `json:"delivered_total"`
	AvgLitersPerRun decimal.Decimal `json:"avg_liters_per_run"`
	Exceptions      int             `json:"exceptions"`
}

// Productivity sums runs per tanker or driver. avgLitersPerRun is
// deliveredTotal / runs rounded to two places, 0 when there are no runs.
// Exceptions attached to a trip count against that trip's driver; day-level
// exceptions count against the day's default driver.
func Productivity(ds Dataset, groupBy ProductivityGroupBy) []ProductivityRow {
	groups := make(map[string]*ProductivityRow)
	get := func(key, label string) *ProductivityRow {
		g, ok := groups[key]
		if !ok {
			g = &ProductivityRow{Key: key, Label: label, UpliftTotal: decimal.Zero, DeliveredTotal: decimal.Zero}
			groups[key] = g
		}
		return g
	}

	runDriver := make(map[string]map[int]string)
	for _, r := range ds.Runs {
		if runDriver[r.ProgramID] == nil {
			runDriver[r.ProgramID] = make(map[int]string)
		}
		runDriver[r.ProgramID][r.Seq] = r.DriverID

		g := get(productivityKey(groupBy, r.TankerID, r.TankerName, r.DriverID))
		g.Runs++
		for _, a := range r.Allocations {
			g.UpliftTotal = g.UpliftTotal.Add(a.RefillQty)
			if r.Delivered {
				g.DeliveredTotal = g.DeliveredTotal.Add(a.Dispensed())
			}
		}
	}

	for _, p := range ds.Programs {
		for _, e := range p.Exceptions {
			driver := p.DriverID
			if d, ok := runDriver[p.ID][e.TripSeq]; ok && e.TripSeq > 0 {
				driver = d
			}
			get(productivityKey(groupBy, p.TankerID, p.TankerName, driver)).Exceptions++
		}
	}

	out := make([]ProductivityRow, 0, len(groups))
	for _, g := range groups {
		if g.Runs > 0 {
			g.AvgLitersPerRun = g.DeliveredTotal.Div(decimal.NewFromInt(int64(g.Runs))).Round(2)
		} else {
			g.AvgLitersPerRun = decimal.Zero
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func productivityKey(by ProductivityGroupBy, tankerID, tankerName, driverID string) (key, label string) {
	if by == ProductivityByDriver {
		return driverID, firstNonEmpty(driverID, "(unassigned)")
	}
	return tankerID, firstNonEmpty(tankerName, tankerID)
}

var productivityColumns = []Column[ProductivityRow]{
	{"Group", func(r ProductivityRow) any { return r.Label }},
	{"Runs", func(r ProductivityRow) any { return r.Runs }},
	{"Uplift (L)", func(r ProductivityRow) any { return r.UpliftTotal }},
	{"Delivered (L)", func(r ProductivityRow) any { return r.DeliveredTotal }},
	{"Avg Liters / Run", func(r ProductivityRow) any { return r.AvgLitersPerRun }},
	{"Exceptions", func(r ProductivityRow) any { return r.Exceptions }},
}
