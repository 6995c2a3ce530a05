package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

type ExceptionRow struct {
	ID          string           `json:"id"`
	Date        string           `json:"date"`
	ProgramID   string           `json:"program_id"`
	TankerName  string           `json:"tanker_name"`
	TripSeq     int              `json:"trip_seq,omitempty"`
	Type        string           `json:"type"`
	Severity    string           `json:"severity"`
	Description string           `json:"description"`
	Liters      *decimal.Decimal `json:"liters,omitempty"`
	RaisedAt    time.Time        `json:"raised_at"`
	RaisedBy    string           `json:"raised_by"`
	Cleared     bool             `json:"cleared"`
	ClearedAt   *time.Time       `json:"cleared_at,omitempty"`
	ClearedBy   string           `json:"cleared_by,omitempty"`
	ClearNote   string           `json:"clear_note,omitempty"`
}

// ExceptionFilter narrows the register. Zero values match everything.
type ExceptionFilter struct {
	Type          dispatch.ExceptionType
	Severity      dispatch.Severity
	UnclearedOnly bool
}

// ExceptionsRegister lists exceptions, newest date first, most severe first
// within a date.
func ExceptionsRegister(ds Dataset, f ExceptionFilter) []ExceptionRow {
	var out []ExceptionRow
	for _, p := range ds.Programs {
		for _, e := range p.Exceptions {
			if f.Type != "" && e.Type != f.Type {
				continue
			}
			if f.Severity != "" && e.Severity != f.Severity {
				continue
			}
			if f.UnclearedOnly && e.IsCleared() {
				continue
			}
			row := ExceptionRow{
				ID:          e.ID,
				Date:        p.Date.Format(dispatch.DateLayout),
				ProgramID:   p.ID,
				TankerName:  p.TankerName,
				TripSeq:     e.TripSeq,
				Type:        string(e.Type),
				Severity:    string(e.Severity),
				Description: e.Description,
				Liters:      e.Liters,
				RaisedAt:    e.RaisedAt,
				RaisedBy:    e.RaisedBy,
				Cleared:     e.IsCleared(),
			}
			if c := e.Clearing; c != nil {
				at := c.ClearedAt
				row.ClearedAt = &at
				row.ClearedBy = c.ClearedBy
				row.ClearNote = c.Note
			}
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		si := dispatch.Severity(out[i].Severity).Rank()
		sj := dispatch.Severity(out[j].Severity).Rank()
		if si != sj {
			return si > sj
		}
		return out[i].RaisedAt.Before(out[j].RaisedAt)
	})
	return out
}

var exceptionColumns = []Column[ExceptionRow]{
	{"Date", func(r ExceptionRow) any { return r.Date }},
	{"Exception ID", func(r ExceptionRow) any { return r.ID }},
	{"Tanker", func(r ExceptionRow) any { return r.TankerName }},
	{"Trip", func(r ExceptionRow) any { return r.TripSeq }},
	{"Type", func(r ExceptionRow) any { return r.Type }},
	{"Severity", func(r ExceptionRow) any { return r.Severity }},
	{"Description", func(r ExceptionRow) any { return r.Description }},
	{"Liters", func(r ExceptionRow) any { return r.Liters }},
	{"Raised At", func(r ExceptionRow) any { return r.RaisedAt }},
	{"Raised By", func(r ExceptionRow) any { return r.RaisedBy }},
	{"Cleared", func(r ExceptionRow) any { return r.Cleared }},
	{"Cleared At", func(r ExceptionRow) any { return r.ClearedAt }},
	{"Cleared By", func(r ExceptionRow) any { return r.ClearedBy }},
	{"Note", func(r ExceptionRow) any { return r.ClearNote }},
}
