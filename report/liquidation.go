package report

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// RunLiquidationRow reconciles one run's uplift, drops and heel.
//
//	variance    = heelTotal - expectedHeelTotal
//	hasVariance = |variance| > dispatch.VarianceThreshold
type RunLiquidationRow struct {
	RunID             string          `json:"run_id"`
	Date              string          `json:"date"`
	TankerName        string          `json:"tanker_name"`
	DriverID          string          `json:"driver_id"`
	TripSeq           int             `json:"trip_seq"`
	Status            string          `json:"status"`
	StationName       string          `json:"station_name"`
	UpliftByProduct   ByProduct       `json:"uplift_by_product"`
	UpliftTotal       decimal.Decimal `json:"uplift_total"`
	DropByProduct     ByProduct       `json:"drop_by_product"`
	DropTotal         decimal.Decimal `json:"drop_total"`
	HeelByProduct     ByProduct       `json:"heel_by_product"`
	HeelTotal         decimal.Decimal `json:"heel_total"`
	ExpectedHeelTotal decimal.Decimal `json:"expected_heel_total"`
	Variance          decimal.Decimal `json:"variance"`
	HasVariance       bool            `json:"has_variance"`
	DropsMissingPOD   int             `json:"drops_missing_pod"`
}

type LiquidationFilter struct {
	VarianceOnly   bool
	MissingPODOnly bool
}

// RunLiquidation returns one row per run, newest date first then by trip.
func RunLiquidation(ds Dataset, f LiquidationFilter) []RunLiquidationRow {
	out := make([]RunLiquidationRow, 0, len(ds.Runs))
	for _, r := range ds.Runs {
		row := RunLiquidationRow{
			RunID:             r.ID,
			Date:              r.Date.Format(dispatch.DateLayout),
			TankerName:        r.TankerName,
			DriverID:          r.DriverID,
			TripSeq:           r.Seq,
			Status:            string(r.Status),
			StationName:       r.StationName,
			UpliftByProduct:   ByProduct{},
			DropByProduct:     ByProduct{},
			HeelByProduct:     ByProduct{},
			ExpectedHeelTotal: decimal.Zero,
		}
		for _, a := range r.Allocations {
			row.UpliftByProduct.add(a.ProductCode, a.RefillQty)
			if r.Delivered {
				row.DropByProduct.add(a.ProductCode, a.Dispensed())
			}
			row.HeelByProduct.add(a.ProductCode, a.Heel())
			row.ExpectedHeelTotal = row.ExpectedHeelTotal.Add(a.ExpectedHeel())
		}
		row.UpliftTotal = row.UpliftByProduct.Total()
		row.DropTotal = row.DropByProduct.Total()
		row.HeelTotal = row.HeelByProduct.Total()
		row.Variance = row.HeelTotal.Sub(row.ExpectedHeelTotal)
		row.HasVariance = dispatch.ExceedsVarianceThreshold(row.Variance)
		row.DropsMissingPOD = r.missingPODDrops(ds.Drops)

		if f.VarianceOnly && !row.HasVariance {
			continue
		}
		if f.MissingPODOnly && row.DropsMissingPOD == 0 {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		if out[i].TankerName != out[j].TankerName {
			return out[i].TankerName < out[j].TankerName
		}
		return out[i].TripSeq < out[j].TripSeq
	})
	return out
}

var runLiquidationColumns = []Column[RunLiquidationRow]{
	{"Date", func(r RunLiquidationRow) any { return r.Date }},
	{"Run ID", func(r RunLiquidationRow) any { return r.RunID }},
	{"Tanker", func(r RunLiquidationRow) any { return r.TankerName }},
	{"Driver", func(r RunLiquidationRow) any { return r.DriverID }},
	{"Trip", func(r RunLiquidationRow) any { return r.TripSeq }},
	{"Status", func(r RunLiquidationRow) any { return r.Status }},
	{"Station", func(r RunLiquidationRow) any { return r.StationName }},
	{"Uplift By Product", func(r RunLiquidationRow) any { return r.UpliftByProduct }},
	{"Uplift Total (L)", func(r RunLiquidationRow) any { return r.UpliftTotal }},
	{"Drop By Product", func(r RunLiquidationRow) any { return r.DropByProduct }},
	{"Drop Total (L)", func(r RunLiquidationRow) any { return r.DropTotal }},
	{"Heel By Product", func(r RunLiquidationRow) any { return r.HeelByProduct }},
	{"Heel Total (L)", func(r RunLiquidationRow) any { return r.HeelTotal }},
	{"Expected Heel (L)", func(r RunLiquidationRow) any { return r.ExpectedHeelTotal }},
	{"Variance (L)", func(r RunLiquidationRow) any { return r.Variance }},
	{"Has Variance", func(r RunLiquidationRow) any { return r.HasVariance }},
	{"Drops Missing POD", func(r RunLiquidationRow) any { return r.DropsMissingPOD }},
}
