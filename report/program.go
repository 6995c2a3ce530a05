package report

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// ProgramSummaryRow is one tanker day in the Daily Program Summary.
type ProgramSummaryRow struct {
	Date                 string          `json:"date"`
	ProgramID            string          `json:"program_id"`
	TankerName           string          `json:"tanker_name"`
	Status               string          `json:"status"`
	PlannedByProduct     ByProduct       `json:"planned_by_product"`
	ServedByProduct      ByProduct       `json:"served_by_product"`
	PendingByProduct     ByProduct       `json:"pending_by_product"`
	PlannedTotal         decimal.Decimal `json:"planned_total"`
	ServedTotal          decimal.Decimal `json:"served_total"`
	PendingTotal         decimal.Decimal `json:"pending_total"`
	TotalRuns            int             `json:"total_runs"`
	CompletedRuns        int             `json:"completed_runs"`
	VarianceExceptions   int             `json:"variance_exceptions"`
	MissingPODExceptions int             `json:"missing_pod_exceptions"`
	TotalExceptions      int             `json:"total_exceptions"`
}

// ProgramSummary returns one row per program, newest first. Served is what
// was delivered; pending is what is planned on runs not yet delivered.
func ProgramSummary(ds Dataset) []ProgramSummaryRow {
	rows := make(map[string]*ProgramSummaryRow, len(ds.Programs))
	order := make([]*ProgramSummaryRow, 0, len(ds.Programs))
	for _, p := range ds.Programs {
		row := &ProgramSummaryRow{
			Date:             p.Date.Format(dispatch.DateLayout),
			ProgramID:        p.ID,
			TankerName:       p.TankerName,
			Status:           string(p.Status),
			PlannedByProduct: ByProduct{},
			ServedByProduct:  ByProduct{},
			PendingByProduct: ByProduct{},
			TotalExceptions:  len(p.Exceptions),
		}
		for _, e := range p.Exceptions {
			switch e.Type {
			case dispatch.ExceptionVariance:
				row.VarianceExceptions++
			case dispatch.ExceptionMissingPOD:
				row.MissingPODExceptions++
			}
		}
		rows[p.ID] = row
		order = append(order, row)
	}

	for _, r := range ds.Runs {
		row, ok := rows[r.ProgramID]
		if !ok {
			continue
		}
		row.TotalRuns++
		if r.Status == dispatch.TripCompleted {
			row.CompletedRuns++
		}
		for _, a := range r.Allocations {
			row.PlannedByProduct.add(a.ProductCode, a.PlannedQty)
			if r.Delivered {
				row.ServedByProduct.add(a.ProductCode, a.Dispensed())
			} else {
				row.PendingByProduct.add(a.ProductCode, a.PlannedQty)
			}
		}
	}

	out := make([]ProgramSummaryRow, len(order))
	for i, row := range order {
		row.PlannedTotal = row.PlannedByProduct.Total()
		row.ServedTotal = row.ServedByProduct.Total()
		row.PendingTotal = row.PendingByProduct.Total()
		out[i] = *row
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].TankerName < out[j].TankerName
	})
	return out
}

var programSummaryColumns = []Column[ProgramSummaryRow]{
	{"Date", func(r ProgramSummaryRow) any { return r.Date }},
	{"Program ID", func(r ProgramSummaryRow) any { return r.ProgramID }},
	{"Tanker", func(r ProgramSummaryRow) any { return r.TankerName }},
	{"Status", func(r ProgramSummaryRow) any { return r.Status }},
	{"Planned By Product", func(r ProgramSummaryRow) any { return r.PlannedByProduct }},
	{"Served By Product", func(r ProgramSummaryRow) any { return r.ServedByProduct }},
	{"Pending By Product", func(r ProgramSummaryRow) any { return r.PendingByProduct }},
	{"Planned Total (L)", func(r ProgramSummaryRow) any { return r.PlannedTotal }},
	{"Served Total (L)", func(r ProgramSummaryRow) any { return r.ServedTotal }},
	{"Pending Total (L)", func(r ProgramSummaryRow) any { return r.PendingTotal }},
	{"Runs", func(r ProgramSummaryRow) any { return r.TotalRuns }},
	{"Completed Runs", func(r ProgramSummaryRow) any { return r.CompletedRuns }},
	{"Variance Exceptions", func(r ProgramSummaryRow) any { return r.VarianceExceptions }},
	{"Missing POD Exceptions", func(r ProgramSummaryRow) any { return r.MissingPODExceptions }},
	{"Total Exceptions", func(r ProgramSummaryRow) any { return r.TotalExceptions }},
}
