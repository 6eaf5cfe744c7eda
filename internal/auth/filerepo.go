package auth

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/odyssey-erp/taskdesk/internal/platform/filedb"
	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// FileRepository implements Repository on the JSON file database.
type FileRepository struct {
	db *filedb.DB
}

// NewFileRepository constructs a FileRepository.
func NewFileRepository(db *filedb.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FindByUsername fetches a user by username.
func (r *FileRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var out *User
	err := r.db.View(ctx, func(d *filedb.Data) error {
		idx := slices.IndexFunc(d.Users, func(u filedb.User) bool { return u.Username == username })
		if idx < 0 {
			return shared.ErrNotFound
		}
		u := d.Users[idx]
		out = &User{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
		return nil
	})
	return out, err
}

// CreateUser appends an active account.
func (r *FileRepository) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	var out *User
	err := r.db.Update(ctx, func(d *filedb.Data) error {
		if slices.ContainsFunc(d.Users, func(u filedb.User) bool { return u.Username == username }) {
			return fmt.Errorf("%w: username %s", httpx.ErrDuplicate, username)
		}
		u := filedb.User{
			ID:           d.NextUserID(),
			Username:     username,
			PasswordHash: passwordHash,
			IsActive:     true,
			CreatedAt:    time.Now().UTC(),
		}
		d.Users = append(d.Users, u)
		out = &User{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, IsActive: u.IsActive, CreatedAt: u.CreatedAt}
		return nil
	})
	return out, err
}

// CreateSession records a login.
func (r *FileRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return r.db.Update(ctx, func(d *filedb.Data) error {
		now := time.Now().UTC()
		d.Sessions = slices.DeleteFunc(d.Sessions, func(s filedb.Session) bool {
			return s.ID == id || s.ExpiresAt.Before(now)
		})
		d.Sessions = append(d.Sessions, filedb.Session{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: expiresAt.UTC(),
			IP:        ip,
			UserAgent: ua,
		})
		return nil
	})
}

// DeleteSession removes a session record.
func (r *FileRepository) DeleteSession(ctx context.Context, id string) error {
	return r.db.Update(ctx, func(d *filedb.Data) error {
		d.Sessions = slices.DeleteFunc(d.Sessions, func(s filedb.Session) bool { return s.ID == id })
		return nil
	})
}

var _ Repository = (*FileRepository)(nil)
