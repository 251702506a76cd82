package schedule

import "time"

// ScheduleKind selects how a job's next run is computed.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Spec is a time specification for job execution.
type Spec struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedules: an RFC 3339 timestamp.
	At string `json:"at,omitempty"`

	// For "every" schedules.
	EveryMs  int64  `json:"everyMs,omitempty"`
	AnchorMs *int64 `json:"anchorMs,omitempty"`

	// For "cron" schedules: a 5-field cron expression.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// JobState tracks runtime state of a job.
type JobState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // "ok", "error", or "skipped"
	LastError         string `json:"lastError,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Job fires a graph entry point on a schedule.
type Job struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Enabled        bool           `json:"enabled"`
	DeleteAfterRun bool           `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64          `json:"createdAtMs"`
	UpdatedAtMs    int64          `json:"updatedAtMs"`
	Schedule       Spec           `json:"schedule"`
	EntryPoint     string         `json:"entryPoint"`
	Payload        map[string]any `json:"payload,omitempty"`
	State          JobState       `json:"state"`
}

// AddParams contains parameters for creating a job.
type AddParams struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Enabled        bool           `json:"enabled"`
	DeleteAfterRun bool           `json:"deleteAfterRun,omitempty"`
	Schedule       Spec           `json:"schedule"`
	EntryPoint     string         `json:"entryPoint"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Now returns current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(v int64) *int64 {
	return &v
}
