package guard

import (
	"time"

	"github.com/your-org/blipguard/internal/mjpeg"
)

// AlarmEventType is the event_type header value of published alarms.
const AlarmEventType = "guard.alarm"

// AlarmEvent is emitted once per raised alarm. The frame bytes stay out of the
// payload; FrameRef points at the persisted copy.
type AlarmEvent struct {
	ID            string       `json:"id"`
	SourceID      string       `json:"source_id"`
	Explanation   string       `json:"explanation"`
	ContentType   string       `json:"content_type"`
	FrameBytes    int          `json:"frame_bytes"`
	FrameRef      string       `json:"frame_ref,omitempty"`
	DetectedAt    time.Time    `json:"detected_at"`
	CooldownUntil time.Time    `json:"cooldown_until"`
	Frame         *mjpeg.Frame `json:"-"`
}
