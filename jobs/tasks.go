package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskArchiveCompleted archives completed tasks that went stale.
	TaskArchiveCompleted = "tasks:archive"
)

// ArchivePayload describes one archive run.
type ArchivePayload struct {
	OlderThan string `json:"older_than"`
}

// Duration parses OlderThan, falling back to def when it is empty.
func (p ArchivePayload) Duration(def time.Duration) (time.Duration, error) {
	if p.OlderThan == "" {
		return def, nil
	}
	d, err := time.ParseDuration(p.OlderThan)
	if err != nil {
		return 0, fmt.Errorf("archive payload: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("archive payload: non-positive duration %s", p.OlderThan)
	}
	return d, nil
}

// NewArchiveTask constructs an archive task. A zero olderThan lets the
// worker use its configured default.
func NewArchiveTask(olderThan time.Duration) (*asynq.Task, error) {
	payload := ArchivePayload{}
	if olderThan > 0 {
		payload.OlderThan = olderThan.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskArchiveCompleted, data), nil
}
