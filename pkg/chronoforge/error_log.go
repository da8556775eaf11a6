package chronoforge

import "time"

// ErrorLog is one row per observed exception, carrying a context snapshot
// for post-mortem inspection.
type ErrorLog struct {
	ID           string
	WorkflowID   string
	ErrorClass   string
	ErrorMessage string
	Backtrace    string
	Context      map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
