// Package filedb keeps users, sessions and tasks in a single JSON document
// on disk. It backs STORE_DRIVER=file deployments and tests.
package filedb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// User is the stored form of an account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is an audit record of a login.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"ua,omitempty"`
}

// Task is the stored form of a task.
type Task struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Data is the root document.
type Data struct {
	Users    []User    `json:"users"`
	Sessions []Session `json:"sessions"`
	Tasks    []Task    `json:"tasks"`
	Seq      Sequences `json:"seq"`
}

// Sequences hold the last issued ids.
type Sequences struct {
	Users int64 `json:"users"`
	Tasks int64 `json:"tasks"`
}

// NextUserID issues a user id.
func (d *Data) NextUserID() int64 {
	d.Seq.Users = max(d.Seq.Users, maxUserID(d.Users)) + 1
	return d.Seq.Users
}

// NextTaskID issues a task id.
func (d *Data) NextTaskID() int64 {
	d.Seq.Tasks = max(d.Seq.Tasks, maxTaskID(d.Tasks)) + 1
	return d.Seq.Tasks
}

func maxUserID(users []User) int64 {
	var out int64
	for _, u := range users {
		out = max(out, u.ID)
	}
	return out
}

func maxTaskID(tasks []Task) int64 {
	var out int64
	for _, t := range tasks {
		out = max(out, t.ID)
	}
	return out
}

// DB serialises access to the document at path.
type DB struct {
	path string
	mu   sync.RWMutex
}

// Open returns a DB for path. The file is created on first write.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("platform/filedb: empty path")
	}
	return &DB{path: path}, nil
}

// Path returns the backing file.
func (db *DB) Path() string {
	return db.path
}

// View runs fn against a fresh read of the document.
func (db *DB) View(ctx context.Context, fn func(*Data) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	data, err := db.load()
	if err != nil {
		return err
	}
	return fn(&data)
}

// Update runs fn and writes the document back when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(*Data) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.load()
	if err != nil {
		return err
	}
	if err := fn(&data); err != nil {
		return err
	}
	return db.save(data)
}

// load reads the document. A missing or empty file is an empty document.
func (db *DB) load() (Data, error) {
	raw, err := os.ReadFile(db.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{}, nil
		}
		return Data{}, fmt.Errorf("platform/filedb: read: %w", err)
	}
	if len(raw) == 0 {
		return Data{}, nil
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("platform/filedb: decode %s: %w", db.path, err)
	}
	return data, nil
}

// save writes the document atomically.
func (db *DB) save(data Data) error {
	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return fmt.Errorf("platform/filedb: mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("platform/filedb: encode: %w", err)
	}
	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("platform/filedb: write: %w", err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return fmt.Errorf("platform/filedb: rename: %w", err)
	}
	return nil
}
