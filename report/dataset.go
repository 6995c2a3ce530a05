/*
Package report computes the liquidation and variance reports.

PURPOSE:
  Reports are pure batch computations over a closed, date-bounded set of
  tanker days. Nothing here reads storage or the clock: callers load the
  days, Project() flattens them into a Dataset, and each report is a
  function of that Dataset plus its filters.

VOCABULARY:
  Program  - one tanker day
  Run      - one non-cancelled trip
  Uplift   - liters loaded at the depot for a run, per product
  Drop     - liters delivered on a run, per product (only once delivered,
             and only for products with a non-zero delivery)
  Heel     - liters left in the compartments after a run, per product

  For a run that has not delivered yet, heel and expected heel are both
  computed from planned quantities, so its heel variance is zero.

REPORTS:
  program.go      - Daily Program Summary
  station.go      - Station Ledger
  liquidation.go  - Run Liquidation
  exceptions.go   - Exceptions Register
  pod.go          - POD Completeness
  productivity.go - Productivity Summary
  export.go       - CSV / XLSX projection shared by all six

CONCURRENCY:
  A Dataset is read-only once built. Any number of reports may run over
  the same Dataset concurrently.
*/
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// Range is an inclusive calendar-date range.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange validates the YYYY-MM-DD bounds every report requires.
func ParseRange(from, to string) (Range, error) {
	if from == "" {
		return Range{}, &dispatch.ValidationError{Field: "dateFrom", Message: "dateFrom is required"}
	}
	if to == "" {
		return Range{}, &dispatch.ValidationError{Field: "dateTo", Message: "dateTo is required"}
	}
	f, err := dispatch.ParseDate(from)
	if err != nil {
		return Range{}, &dispatch.ValidationError{Field: "dateFrom", Message: "expected YYYY-MM-DD"}
	}
	t, err := dispatch.ParseDate(to)
	if err != nil {
		return Range{}, &dispatch.ValidationError{Field: "dateTo", Message: "expected YYYY-MM-DD"}
	}
	if t.Before(f) {
		return Range{}, &dispatch.ValidationError{Field: "dateTo", Message: "must not be before dateFrom"}
	}
	return Range{From: f, To: t}, nil
}

// Contains reports whether d's calendar date lies inside the range.
func (r Range) Contains(d time.Time) bool {
	d = dispatch.DateOf(d)
	return !d.Before(r.From) && !d.After(r.To)
}

// =============================================================================
// DATASET
// =============================================================================

type Program struct {
	ID         string
	Date       time.Time
	TankerID   string
	TankerName string
	DriverID   string
	PorterID   string
	Status     dispatch.DayStatus
	Exceptions []dispatch.Exception
}

type Run struct {
	ID          string
	ProgramID   string
	Date        time.Time
	TankerID    string
	TankerName  string
	DriverID    string
	PorterID    string
	Seq         int
	Status      dispatch.TripStatus
	StationID   string
	StationName string
	CustomerID  string
	Customer    string
	DRNumber    string
	HasPOD      bool
	PODFiles    []string
	Delivered   bool
	Allocations []dispatch.CompartmentAllocation
}

type Drop struct {
	RunID       string
	ProgramID   string
	Date        time.Time
	TankerID    string
	TankerName  string
	DriverID    string
	PorterID    string
	TripSeq     int
	StationID   string
	StationName string
	Customer    string
	Product     string
	Liters      decimal.Decimal
	DRNumber    string
	HasPOD      bool
	PODFiles    []string
}

type Dataset struct {
	Programs []Program
	Runs     []Run
	Drops    []Drop
}

// Project flattens tanker days into a Dataset. Days outside rng are
// skipped; cancelled trips produce no run.
func Project(days []dispatch.TankerDay, rng Range) Dataset {
	var ds Dataset
	for i := range days {
		d := &days[i]
		if !rng.Contains(d.Date) {
			continue
		}
		ds.Programs = append(ds.Programs, Program{
			ID:         d.ID,
			Date:       d.Date,
			TankerID:   d.TankerID,
			TankerName: d.TankerName,
			DriverID:   d.DriverID,
			PorterID:   d.PorterID,
			Status:     d.Status,
			Exceptions: append([]dispatch.Exception(nil), d.Exceptions...),
		})
		for _, t := range d.Trips {
			if t.Status == dispatch.TripCancelled {
				continue
			}
			run := Run{
				ID:          t.ID,
				ProgramID:   d.ID,
				Date:        d.Date,
				TankerID:    d.TankerID,
				TankerName:  d.TankerName,
				DriverID:    t.DriverID,
				PorterID:    t.PorterID,
				Seq:         t.Seq,
				Status:      t.Status,
				StationID:   t.StationID,
				StationName: t.StationName,
				CustomerID:  t.CustomerID,
				Customer:    t.CustomerName,
				DRNumber:    t.DRNumber,
				HasPOD:      t.HasPOD,
				PODFiles:    append([]string(nil), t.PODFiles...),
				Delivered:   t.ActualQty() != nil,
				Allocations: append([]dispatch.CompartmentAllocation(nil), t.Allocations...),
			}
			ds.Runs = append(ds.Runs, run)
			if !run.Delivered {
				continue
			}
			for _, pq := range run.byProduct(func(a dispatch.CompartmentAllocation) decimal.Decimal {
				return a.Dispensed()
			}) {
				if pq.Liters.IsZero() {
					continue
				}
				ds.Drops = append(ds.Drops, Drop{
					RunID:       run.ID,
					ProgramID:   run.ProgramID,
					Date:        run.Date,
					TankerID:    run.TankerID,
					TankerName:  run.TankerName,
					DriverID:    run.DriverID,
					PorterID:    run.PorterID,
					TripSeq:     run.Seq,
					StationID:   run.StationID,
					StationName: run.StationName,
					Customer:    run.Customer,
					Product:     pq.Product,
					Liters:      pq.Liters,
					DRNumber:    run.DRNumber,
					HasPOD:      run.HasPOD,
					PODFiles:    run.PODFiles,
				})
			}
		}
	}
	return ds
}

// =============================================================================
// PRODUCT TOTALS
// =============================================================================

type productQty struct {
	Product string
	Liters  decimal.Decimal
}

// ByProduct maps product code to liters. It marshals to a JSON object,
// which is also how it appears in CSV cells.
type ByProduct map[string]decimal.Decimal

func (b ByProduct) add(product string, v decimal.Decimal) {
	b[product] = b[product].Add(v)
}

// Total sums all products.
func (b ByProduct) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range b {
		sum = sum.Add(v)
	}
	return sum
}

// byProduct groups one quantity of the run's allocations by product, in
// product order. Allocations without a product are grouped under "".
func (r Run) byProduct(qty func(dispatch.CompartmentAllocation) decimal.Decimal) []productQty {
	totals := ByProduct{}
	for _, a := range r.Allocations {
		totals.add(a.ProductCode, qty(a))
	}
	out := make([]productQty, 0, len(totals))
	for p, v := range totals {
		out = append(out, productQty{Product: p, Liters: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product < out[j].Product })
	return out
}

func (r Run) missingPODDrops(drops []Drop) int {
	if r.HasPOD {
		return 0
	}
	n := 0
	for _, d := range drops {
		if d.RunID == r.ID {
			n++
		}
	}
	return n
}

func percentage(part, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).Round(2)
}
