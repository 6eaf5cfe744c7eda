package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/taskdesk/internal/jobs"
)

// Archiver moves stale completed tasks to the archive.
type Archiver interface {
	ArchiveCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ArchiveJob handles TaskArchiveCompleted.
type ArchiveJob struct {
	Archiver  Archiver
	OlderThan time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewArchiveJob wires dependencies for the archive handler.
func NewArchiveJob(archiver Archiver, olderThan time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ArchiveJob {
	return &ArchiveJob{Archiver: archiver, OlderThan: olderThan, Logger: logger, Metrics: metrics}
}

// Handle processes archive tasks.
func (j *ArchiveJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Archiver == nil {
		return errors.New("archive: handler not configured")
	}
	var payload ArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	olderThan, err := payload.Duration(j.OlderThan)
	if err != nil {
		j.logger().Warn("archive payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskArchiveCompleted)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := j.Archiver.ArchiveCompleted(ctx, olderThan)
	if err != nil {
		j.logger().Error("archive completed tasks", slog.Any("error", err))
		return err
	}
	j.Metrics.AddArchived(n)
	j.logger().Info("archived completed tasks", slog.Int64("count", n), slog.Duration("older_than", olderThan))
	return nil
}

func (j *ArchiveJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
