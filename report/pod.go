package report

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

type PODGroupBy string

const (
	PODByDate    PODGroupBy = "date"
	PODByStation PODGroupBy = "station"
	PODByPorter  PODGroupBy = "porter"
	PODByTanker  PODGroupBy = "tanker"
)

// ParsePODGroupBy defaults to date.
func ParsePODGroupBy(s string) (PODGroupBy, error) {
	switch g := PODGroupBy(s); g {
	case "":
		return PODByDate, nil
	case PODByDate, PODByStation, PODByPorter, PODByTanker:
		return g, nil
	}
	return "", &dispatch.ValidationError{Field: "groupBy", Message: fmt.Sprintf("unknown grouping %q", s)}
}

type PODCompletenessRow struct {
	Key                    string          `json:"key"`
	Label                  string          `json:"label"`
	TotalDrops             int             `json:"total_drops"`
	WithPOD                int             `json:"with_pod"`
	MissingPOD             int             `json:"missing_pod"`
	CompletenessPercentage decimal.Decimal `json:"completeness_percentage"`
}

// PODCompleteness counts drops with and without POD per group. The
// percentage is rounded to two places and is 0 for an empty group.
func PODCompleteness(ds Dataset, groupBy PODGroupBy) []PODCompletenessRow {
	groups := make(map[string]*PODCompletenessRow)
	for _, d := range ds.Drops {
		key, label := podGroup(d, groupBy)
		g, ok := groups[key]
		if !ok {
			g = &PODCompletenessRow{Key: key, Label: label}
			groups[key] = g
		}
		g.TotalDrops++
		if d.HasPOD {
			g.WithPOD++
		} else {
			g.MissingPOD++
		}
	}

	out := make([]PODCompletenessRow, 0, len(groups))
	for _, g := range groups {
		g.CompletenessPercentage = percentage(g.WithPOD, g.TotalDrops)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if groupBy == PODByDate {
			return out[i].Key > out[j].Key
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func podGroup(d Drop, by PODGroupBy) (key, label string) {
	switch by {
	case PODByStation:
		return d.StationID, firstNonEmpty(d.StationName, d.StationID)
	case PODByPorter:
		return d.PorterID, firstNonEmpty(d.PorterID, "(unassigned)")
	case PODByTanker:
		return d.TankerID, firstNonEmpty(d.TankerName, d.TankerID)
	}
	date := d.Date.Format(dispatch.DateLayout)
	return date, date
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var podCompletenessColumns = []Column[PODCompletenessRow]{
	{"Group", func(r PODCompletenessRow) any { return r.Label }},
	{"Total Drops", func(r PODCompletenessRow) any { return r.TotalDrops }},
	{"With POD", func(r PODCompletenessRow) any { return r.WithPOD }},
	{"Missing POD", func(r PODCompletenessRow) any { return r.MissingPOD }},
	{"Completeness %", func(r PODCompletenessRow) any { return r.CompletenessPercentage }},
}
