package report

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tanker-dispatch/dispatch"
)

// StationLedgerRow is one drop.
type StationLedgerRow struct {
	Date        string          `json:"date"`
	StationID   string          `json:"station_id"`
	StationName string          `json:"station_name"`
	Customer    string          `json:"customer"`
	Product     string          `json:"product"`
	Liters      decimal.Decimal `json:"liters"`
	DRNumber    string          `json:"dr_number"`
	PODFiles    []string        `json:"pod_files"`
	PODCount    int             `json:"pod_count"`
	TankerName  string          `json:"tanker_name"`
	TripSeq     int             `json:"trip_seq"`
}

type StationLedgerFilter struct {
	StationID string
}

// StationLedger lists drops newest first.
func StationLedger(ds Dataset, f StationLedgerFilter) []StationLedgerRow {
	out := make([]StationLedgerRow, 0, len(ds.Drops))
	for _, d := range ds.Drops {
		if f.StationID != "" && d.StationID != f.StationID {
			continue
		}
		out = append(out, StationLedgerRow{
			Date:        d.Date.Format(dispatch.DateLayout),
			StationID:   d.StationID,
			StationName: d.StationName,
			Customer:    d.Customer,
			Product:     d.Product,
			Liters:      d.Liters,
			DRNumber:    d.DRNumber,
			PODFiles:    append([]string{}, d.PODFiles...),
			PODCount:    len(d.PODFiles),
			TankerName:  d.TankerName,
			TripSeq:     d.TripSeq,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		if out[i].StationName != out[j].StationName {
			return out[i].StationName < out[j].StationName
		}
		if out[i].TripSeq != out[j].TripSeq {
			return out[i].TripSeq < out[j].TripSeq
		}
		return out[i].Product < out[j].Product
	})
	return out
}

var stationLedgerColumns = []Column[StationLedgerRow]{
	{"Date", func(r StationLedgerRow) any { return r.Date }},
	{"Station ID", func(r StationLedgerRow) any { return r.StationID }},
	{"Station", func(r StationLedgerRow) any { return r.StationName }},
	{"Customer", func(r StationLedgerRow) any { return r.Customer }},
	{"Product", func(r StationLedgerRow) any { return r.Product }},
	{"Liters", func(r StationLedgerRow) any { return r.Liters }},
	{"DR Number", func(r StationLedgerRow) any { return r.DRNumber }},
	{"POD Files", func(r StationLedgerRow) any { return r.PODFiles }},
	{"POD Count", func(r StationLedgerRow) any { return r.PODCount }},
	{"Tanker", func(r StationLedgerRow) any { return r.TankerName }},
	{"Trip", func(r StationLedgerRow) any { return r.TripSeq }},
}
