package tasks

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/odyssey-erp/taskdesk/internal/platform/filedb"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
)

// FileRepository implements Repository on top of the JSON file database.
type FileRepository struct {
	db *filedb.DB
}

// NewFileRepository constructs a FileRepository.
func NewFileRepository(db *filedb.DB) *FileRepository {
	return &FileRepository{db: db}
}

// List filters, sorts and pages the owner's tasks in memory.
func (r *FileRepository) List(ctx context.Context, filters ListFilters) ([]Task, int, error) {
	var matched []Task
	err := r.db.View(ctx, func(d *filedb.Data) error {
		for _, rec := range d.Tasks {
			task := fromRecord(rec)
			if matches(task, filters) {
				matched = append(matched, task)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortStableFunc(matched, compareBy(filters.SortBy, filters.SortDir))
	total := len(matched)
	if filters.Limit > 0 {
		start := min(max(filters.Offset, 0), total)
		end := min(start+filters.Limit, total)
		matched = matched[start:end]
	}
	return matched, total, nil
}

func matches(t Task, f ListFilters) bool {
	if t.UserID != f.UserID {
		return false
	}
	if f.Search != "" && !containsFold(t.Title, f.Search) {
		return false
	}
	if f.Title != "" && !containsFold(t.Title, f.Title) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.DueDate != nil && (t.DueDate == nil || !sameDay(*t.DueDate, *f.DueDate)) {
		return false
	}
	if !inRange(t.ArchivedAt, f.ArchivedFrom, f.ArchivedTo) {
		return false
	}
	created := t.CreatedAt
	return inRange(&created, f.CreatedFrom, f.CreatedTo)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sameDay(a, b time.Time) bool {
	return a.Format(DateLayout) == b.Format(DateLayout)
}

func inRange(t, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if t == nil {
		return false
	}
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*endOfDay(to)) {
		return false
	}
	return true
}

func compareBy(sortBy, sortDir string) func(a, b Task) int {
	dir := 1
	if sortDir == "desc" {
		dir = -1
	}
	return func(a, b Task) int {
		var c int
		switch sortBy {
		case "title":
			c = dir * cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case "status":
			c = dir * cmp.Compare(a.Status, b.Status)
		case "due_date":
			c = compareTimes(a.DueDate, b.DueDate, dir)
		case "archived_at":
			c = compareTimes(a.ArchivedAt, b.ArchivedAt, dir)
		case "created_at":
			c = dir * a.CreatedAt.Compare(b.CreatedAt)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}
}

// compareTimes orders nil values last regardless of direction.
func compareTimes(a, b *time.Time, dir int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b) * dir
}

// Get fetches a task owned by userID.
func (r *FileRepository) Get(ctx context.Context, userID, id int64) (Task, error) {
	var out Task
	err := r.db.View(ctx, func(d *filedb.Data) error {
		idx := findTask(d.Tasks, userID, id)
		if idx < 0 {
			return httpx.ErrNotFound
		}
		out = fromRecord(d.Tasks[idx])
		return nil
	})
	return out, err
}

// Create appends task with a fresh id.
func (r *FileRepository) Create(ctx context.Context, task Task) (Task, error) {
	err := r.db.Update(ctx, func(d *filedb.Data) error {
		task.ID = d.NextTaskID()
		d.Tasks = append(d.Tasks, toRecord(task))
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// Update overwrites the stored task.
func (r *FileRepository) Update(ctx context.Context, task Task) (Task, error) {
	err := r.db.Update(ctx, func(d *filedb.Data) error {
		idx := findTask(d.Tasks, task.UserID, task.ID)
		if idx < 0 {
			return httpx.ErrNotFound
		}
		task.CreatedAt = d.Tasks[idx].CreatedAt
		d.Tasks[idx] = toRecord(task)
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// Delete removes a task owned by userID.
func (r *FileRepository) Delete(ctx context.Context, userID, id int64) error {
	return r.db.Update(ctx, func(d *filedb.Data) error {
		idx := findTask(d.Tasks, userID, id)
		if idx < 0 {
			return httpx.ErrNotFound
		}
		d.Tasks = slices.Delete(d.Tasks, idx, idx+1)
		return nil
	})
}

// ArchiveCompleted archives completed tasks last touched before before.
func (r *FileRepository) ArchiveCompleted(ctx context.Context, before, now time.Time) (int64, error) {
	var n int64
	err := r.db.Update(ctx, func(d *filedb.Data) error {
		for i := range d.Tasks {
			rec := &d.Tasks[i]
			if rec.Status != string(StatusCompleted) || !rec.UpdatedAt.Before(before) {
				continue
			}
			archived := now
			rec.Status = string(StatusArchived)
			rec.ArchivedAt = &archived
			rec.UpdatedAt = now
			n++
		}
		return nil
	})
	return n, err
}

func findTask(tasks []filedb.Task, userID, id int64) int {
	return slices.IndexFunc(tasks, func(t filedb.Task) bool {
		return t.ID == id && t.UserID == userID
	})
}

func fromRecord(rec filedb.Task) Task {
	return Task{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Title:      rec.Title,
		Status:     Status(rec.Status),
		DueDate:    rec.DueDate,
		ArchivedAt: rec.ArchivedAt,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func toRecord(t Task) filedb.Task {
	return filedb.Task{
		ID:         t.ID,
		UserID:     t.UserID,
		Title:      t.Title,
		Status:     string(t.Status),
		DueDate:    t.DueDate,
		ArchivedAt: t.ArchivedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

var _ Repository = (*FileRepository)(nil)
