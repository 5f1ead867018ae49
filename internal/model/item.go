package model

import "time"

// Status is the state-machine tag of one download.
type Status string

const (
	StatusPreparing   Status = "preparing"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// InFlight reports whether s is one of the non-terminal states.
func (s Status) InFlight() bool {
	return s == StatusPreparing || s == StatusDownloading
}

// Terminal reports whether s admits no further transition except a reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrorKind classifies why a download failed.
type ErrorKind string

const (
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindRender    ErrorKind = "render"
	ErrorKindStorage   ErrorKind = "storage"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Progress is a point-in-time progress sample for one download.
type Progress struct {
	Percentage    float64        `json:"percentage"`
	Status        Status         `json:"status"`
	BytesReceived int64          `json:"bytes_received"`
	TotalBytes    int64          `json:"total_bytes"`     // 0 when unknown
	Speed         float64        `json:"speed,omitempty"` // bytes per second
	ETA           *time.Duration `json:"eta,omitempty"`
}

// Result describes the artifact produced by a successful download.
type Result struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type,omitempty"`
	Key      string `json:"key,omitempty"` // storage key, when saved
	Ref      string `json:"ref,omitempty"` // store-relative reference, when saved
}

// Item is the orchestrator's record of one download.
type Item struct {
	ID        ID        `json:"id"`
	Options   Options   `json:"options"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	c := *it
	c.Options.AnalysisIDs = append([]string(nil), it.Options.AnalysisIDs...)
	if it.Progress.ETA != nil {
		eta := *it.Progress.ETA
		c.Progress.ETA = &eta
	}
	if it.Result != nil {
		r := *it.Result
		c.Result = &r
	}
	return &c
}
