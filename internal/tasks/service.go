package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/taskdesk/internal/datatable"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// Service wraps task business rules.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: time.Now}
}

// List returns the page of the owner's tasks selected by st.
func (s *Service) List(ctx context.Context, userID int64, st datatable.State) (datatable.Page[Task], error) {
	filters, err := FiltersFromState(userID, st)
	if err != nil {
		return datatable.Page[Task]{}, err
	}
	rows, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return datatable.Page[Task]{}, err
	}
	if rows == nil {
		rows = []Task{}
	}
	return datatable.Page[Task]{Rows: rows, Meta: datatable.NewMeta(total, st.PageSize, st.Page)}, nil
}

// ListAll returns every task matching st, ignoring pagination.
func (s *Service) ListAll(ctx context.Context, userID int64, st datatable.State) ([]Task, error) {
	st.PageSize = 0
	filters, err := FiltersFromState(userID, st)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.repo.List(ctx, filters)
	return rows, err
}

// Rows is the row provider of the task table. The owner comes from ctx.
func (s *Service) Rows() datatable.RowProvider[Task] {
	return datatable.ProviderFunc[Task](func(ctx context.Context, st datatable.State) (datatable.Page[Task], error) {
		userID, ok := shared.UserIDFromContext(ctx)
		if !ok {
			return datatable.Page[Task]{}, httpx.ErrUnauthorized
		}
		return s.List(ctx, userID, st)
	})
}

// Get fetches one task of the owner.
func (s *Service) Get(ctx context.Context, userID, id int64) (Task, error) {
	if id <= 0 {
		return Task{}, httpx.ErrNotFound
	}
	return s.repo.Get(ctx, userID, id)
}

// Create stores a new active task.
func (s *Service) Create(ctx context.Context, userID int64, in Input) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check(in); err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	task := Task{
		UserID:    userID,
		Title:     in.Title,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Status != "" {
		task.Status = in.Status
	}
	dueDate, err := parseDate("due_date", in.DueDate)
	if err != nil {
		return Task{}, err
	}
	task.DueDate = dueDate
	applyArchive(&task, now)
	return s.repo.Create(ctx, task)
}

// Update replaces the editable fields of a task.
func (s *Service) Update(ctx context.Context, userID, id int64, in Input) (Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check(in); err != nil {
		return Task{}, err
	}
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	task.Title = in.Title
	if in.Status != "" {
		task.Status = in.Status
	}
	if task.DueDate, err = parseDate("due_date", in.DueDate); err != nil {
		return Task{}, err
	}
	task.UpdatedAt = now
	applyArchive(&task, now)
	return s.repo.Update(ctx, task)
}

// Patch applies a partial update.
func (s *Service) Patch(ctx context.Context, userID, id int64, p Patch) (Task, error) {
	if err := s.validate.Struct(p); err != nil {
		return Task{}, fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	}
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return Task{}, err
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return Task{}, fmt.Errorf("%w: title is required", httpx.ErrValidation)
		}
		task.Title = title
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return Task{}, fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, *p.Status)
		}
		task.Status = *p.Status
	}
	if p.DueDate != nil {
		if task.DueDate, err = parseDate("due_date", *p.DueDate); err != nil {
			return Task{}, err
		}
	}
	now := s.now().UTC()
	task.UpdatedAt = now
	applyArchive(&task, now)
	return s.repo.Update(ctx, task)
}

// Delete removes one task of the owner.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if id <= 0 {
		return httpx.ErrNotFound
	}
	return s.repo.Delete(ctx, userID, id)
}

// ArchiveCompleted archives completed tasks untouched for olderThan.
func (s *Service) ArchiveCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now().UTC()
	return s.repo.ArchiveCompleted(ctx, now.Add(-olderThan), now)
}

func (s *Service) check(in Input) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	}
	return nil
}

// applyArchive keeps ArchivedAt in step with the status.
func applyArchive(t *Task, now time.Time) {
	switch {
	case t.Status == StatusArchived && t.ArchivedAt == nil:
		archived := now
		t.ArchivedAt = &archived
	case t.Status != StatusArchived:
		t.ArchivedAt = nil
	}
}

// FieldErrors maps validator failures onto form field names.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	if len(out) == 0 && err != nil {
		out["general"] = err.Error()
	}
	return out
}
