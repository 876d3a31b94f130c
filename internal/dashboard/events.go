package dashboard

import "time"

// ReportEventType is the event_type header value of fanned-out reports.
const ReportEventType = "guard.report"

// ReportEvent is emitted when the sink accepts an authenticated report.
type ReportEvent struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id,omitempty"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}
