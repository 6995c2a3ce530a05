package dispatch

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExceptionType string

const (
	ExceptionVariance     ExceptionType = "VARIANCE"
	ExceptionMissingPOD   ExceptionType = "MISSING_POD"
	ExceptionLateDelivery ExceptionType = "LATE_DELIVERY"
	ExceptionOther        ExceptionType = "OTHER"
)

// ParseExceptionType returns false for anything outside the closed set.
func ParseExceptionType(s string) (ExceptionType, bool) {
	switch t := ExceptionType(s); t {
	case ExceptionVariance, ExceptionMissingPOD, ExceptionLateDelivery, ExceptionOther:
		return t, true
	}
	return "", false
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// ParseSeverity returns false for anything outside the closed set.
func ParseSeverity(s string) (Severity, bool) {
	if sev := Severity(s); sev.Rank() >= 0 {
		return sev, true
	}
	return "", false
}

// VarianceThreshold is the tolerance, in liters, beyond which a delivery or
// heel variance is flagged.
var VarianceThreshold = decimal.NewFromInt(10)

// ExceedsVarianceThreshold reports |v| > VarianceThreshold.
func ExceedsVarianceThreshold(v decimal.Decimal) bool {
	return v.Abs().GreaterThan(VarianceThreshold)
}

// VarianceSeverity grades a variance by magnitude.
func VarianceSeverity(v decimal.Decimal) Severity {
	abs := v.Abs()
	switch {
	case abs.GreaterThan(decimal.NewFromInt(500)):
		return SeverityCritical
	case abs.GreaterThan(decimal.NewFromInt(200)):
		return SeverityHigh
	case abs.GreaterThan(decimal.NewFromInt(50)):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Clearing records who resolved an exception.
type Clearing struct {
	ClearedAt time.Time `json:"cleared_at"`
	ClearedBy string    `json:"cleared_by"`
	Note      string    `json:"note,omitempty"`
}

// Exception is a flagged anomaly on a trip (TripSeq > 0) or on the whole
// day (TripSeq == 0). It is never deleted; clearing is its only mutation.
type Exception struct {
	ID          string           `json:"id"`
	Type        ExceptionType    `json:"type"`
	Severity    Severity         `json:"severity"`
	TripSeq     int              `json:"trip_seq,omitempty"`
	Description string           `json:"description"`
	Liters      *decimal.Decimal `json:"liters,omitempty"`
	RaisedAt    time.Time        `json:"raised_at"`
	RaisedBy    string           `json:"raised_by"`
	Clearing    *Clearing        `json:"clearing,omitempty"`
}

func (e Exception) IsCleared() bool { return e.Clearing != nil }

// ExceptionInput is a manually raised exception.
type ExceptionInput struct {
	Type        ExceptionType
	Severity    Severity
	TripSeq     int
	Description string
	Liters      *decimal.Decimal
}
