package dispatch

import "time"

type EventType string

const (
	EventDayOpened        EventType = "day_opened"
	EventTripCreated      EventType = "trip_created"
	EventTripDeparted     EventType = "trip_departed"
	EventTripDelivered    EventType = "trip_delivered"
	EventPODUploaded      EventType = "pod_uploaded"
	EventPODAdded         EventType = "pod_added"
	EventTripCancelled    EventType = "trip_cancelled"
	EventDaySubmitted     EventType = "day_submitted"
	EventDayReturned      EventType = "day_returned"
	EventDayApproved      EventType = "day_approved"
	EventExceptionRaised  EventType = "exception_raised"
	EventExceptionCleared EventType = "exception_cleared"
)

// TimelineEvent is an append-only audit record on a TankerDay.
// Seq is 1-based and dense; stores rely on it to append only new events.
type TimelineEvent struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Type        EventType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
	Completed   bool      `json:"completed"`
	Actor       string    `json:"actor,omitempty"`
}
