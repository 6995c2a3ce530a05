package report

import (
	"fmt"
	"sort"

	"github.com/warp/tanker-dispatch/dispatch"
)

// Report names as they appear in /api/reports/{name}.
const (
	NameProgramSummary  = "program-summary"
	NameStationLedger   = "station-ledger"
	NameRunLiquidation  = "run-liquidation"
	NameExceptions      = "exceptions"
	NamePODCompleteness = "pod-completeness"
	NameProductivity    = "productivity"
)

// Params carries the filters of every report; each report reads only its own.
type Params struct {
	Range Range

	StationID string

	VarianceOnly   bool
	MissingPODOnly bool

	ExceptionType dispatch.ExceptionType
	Severity      dispatch.Severity
	UnclearedOnly bool

	GroupBy string
}

type builder func(ds Dataset, p Params) (*Table, error)

var builders = map[string]builder{
	NameProgramSummary: func(ds Dataset, _ Params) (*Table, error) {
		return newTable(NameProgramSummary, programSummaryColumns, ProgramSummary(ds)), nil
	},
	NameStationLedger: func(ds Dataset, p Params) (*Table, error) {
		rows := StationLedger(ds, StationLedgerFilter{StationID: p.StationID})
		return newTable(NameStationLedger, stationLedgerColumns, rows), nil
	},
	NameRunLiquidation: func(ds Dataset, p Params) (*Table, error) {
		rows := RunLiquidation(ds, LiquidationFilter{VarianceOnly: p.VarianceOnly, MissingPODOnly: p.MissingPODOnly})
		return newTable(NameRunLiquidation, runLiquidationColumns, rows), nil
	},
	NameExceptions: func(ds Dataset, p Params) (*Table, error) {
		rows := ExceptionsRegister(ds, ExceptionFilter{Type: p.ExceptionType, Severity: p.Severity, UnclearedOnly: p.UnclearedOnly})
		return newTable(NameExceptions, exceptionColumns, rows), nil
	},
	NamePODCompleteness: func(ds Dataset, p Params) (*Table, error) {
		by, err := ParsePODGroupBy(p.GroupBy)
		if err != nil {
			return nil, err
		}
		return newTable(NamePODCompleteness, podCompletenessColumns, PODCompleteness(ds, by)), nil
	},
	NameProductivity: func(ds Dataset, p Params) (*Table, error) {
		by, err := ParseProductivityGroupBy(p.GroupBy)
		if err != nil {
			return nil, err
		}
		return newTable(NameProductivity, productivityColumns, Productivity(ds, by)), nil
	},
}

// Names lists the available reports, sorted.
func Names() []string {
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build projects days over p.Range and runs the named report.
func Build(name string, days []dispatch.TankerDay, p Params) (*Table, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("report %q: %w", name, dispatch.ErrNotFound)
	}
	return b(Project(days, p.Range), p)
}
