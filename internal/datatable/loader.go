package datatable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrStale marks a response that was superseded by a newer request for the
// same table before it arrived.
var ErrStale = errors.New("datatable: stale response discarded")

// Page is one page of rows plus its metadata.
type Page[T any] struct {
	Rows []T `json:"data"`
	Meta Meta `json:"meta"`
}

// RowProvider fetches the rows matching a view state.
type RowProvider[T any] interface {
	FetchRows(ctx context.Context, st State) (Page[T], error)
}

// ProviderFunc adapts a function to RowProvider.
type ProviderFunc[T any] func(ctx context.Context, st State) (Page[T], error)

// FetchRows calls f.
func (f ProviderFunc[T]) FetchRows(ctx context.Context, st State) (Page[T], error) {
	return f(ctx, st)
}

// Result is what a table renders: rows, metadata, the snapshot they belong
// to, and an explicit error instead of a silently empty page.
type Result[T any] struct {
	Rows     []T
	Meta     Meta
	Snapshot string
	Err      error
}

// Recorder receives loader and controller events. Metrics implement it.
type Recorder interface {
	TableMutated(tableID, op string)
	StaleDiscarded(tableID string)
}

type nopRecorder struct{}

func (nopRecorder) TableMutated(string, string) {}
func (nopRecorder) StaleDiscarded(string)       {}

// scopeLoad tracks the newest fetch of one scope. The fetch context is
// detached from the callers: it ends when a newer snapshot supersedes it or
// when the last waiter of the scope leaves.
type scopeLoad struct {
	seq      uint64
	snapshot string
	ctx      context.Context
	cancel   context.CancelFunc
	waiters  int
}

// Loader fetches rows keyed by the state snapshot. Concurrent loads of the
// same snapshot share one fetch; a load for a new snapshot cancels the
// older one in the same scope, and an older response arriving late is
// reported as ErrStale.
type Loader[T any] struct {
	provider RowProvider[T]
	recorder Recorder
	group    singleflight.Group

	mu     sync.Mutex
	seq    uint64
	scopes map[string]*scopeLoad
}

// LoaderOption customises a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	recorder Recorder
}

// WithRecorder reports stale responses to r.
func WithRecorder(r Recorder) LoaderOption {
	return func(o *loaderOptions) {
		if r != nil {
			o.recorder = r
		}
	}
}

// NewLoader wraps provider.
func NewLoader[T any](provider RowProvider[T], opts ...LoaderOption) *Loader[T] {
	o := loaderOptions{recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[T]{provider: provider, recorder: o.recorder, scopes: make(map[string]*scopeLoad)}
}

// Load fetches the page for st. scope identifies one table of one owner;
// tableID only labels metrics. Cancelling ctx abandons this caller's wait
// without failing other callers that share the fetch.
func (l *Loader[T]) Load(ctx context.Context, scope, tableID string, st State) Result[T] {
	snapshot := Encode(st)
	seq, fetchCtx := l.join(ctx, scope, snapshot)
	defer l.leave(scope)

	key := scope + "?" + snapshot + "#" + strconv.FormatUint(seq, 10)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.provider.FetchRows(fetchCtx, st)
	})

	result := Result[T]{Snapshot: snapshot}
	select {
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	case res := <-ch:
		if !l.current(scope, seq) {
			l.recorder.StaleDiscarded(tableID)
			result.Err = ErrStale
			return result
		}
		if res.Err != nil {
			result.Err = fmt.Errorf("datatable: fetch rows: %w", res.Err)
			return result
		}
		page := res.Val.(Page[T])
		result.Rows = page.Rows
		result.Meta = page.Meta
		return result
	}
}

// join registers a waiter and returns the fetch it should share, starting a
// new one when the snapshot changed or the previous fetch was cancelled.
func (l *Loader[T]) join(ctx context.Context, scope, snapshot string) (uint64, context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.scopes[scope]
	if !ok {
		cur = &scopeLoad{}
		l.scopes[scope] = cur
	}
	if cur.ctx == nil || cur.snapshot != snapshot || cur.ctx.Err() != nil {
		if cur.cancel != nil {
			cur.cancel()
		}
		l.seq++
		cur.seq = l.seq
		cur.snapshot = snapshot
		cur.ctx, cur.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	cur.waiters++
	return cur.seq, cur.ctx
}

// leave drops a waiter. The scope entry goes away with its last waiter, so
// the map only holds scopes with loads in flight.
func (l *Loader[T]) leave(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.scopes[scope]
	if !ok {
		return
	}
	cur.waiters--
	if cur.waiters <= 0 {
		cur.cancel()
		delete(l.scopes, scope)
	}
}

func (l *Loader[T]) current(scope string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.scopes[scope]
	return ok && cur.seq == seq
}

