package job

import (
	"time"

	"deskrag/features/corpus"
)

type Operation string

const (
	OpIndex   Operation = "index"
	OpReindex Operation = "reindex"
	OpDelete  Operation = "delete"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one durable queue entry. The table is the queue: a process restart
// loses nothing, and any number of concurrent workers can claim from it.
type Job struct {
	ID         int64             `json:"id"`
	SourceType corpus.SourceType `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Operation  Operation         `json:"operation"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
