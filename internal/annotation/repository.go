package annotation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionID uniquely identifies an open editing session.
type SessionID string

// Session is one editor bound to one (recording, signal type) pair.
type Session struct {
	ID           SessionID
	Selector     Selector
	Path         string
	SamplingRate int
	OpenedAt     time.Time

	// mu serializes edits so an operation is never re-entered while a
	// previous one is still mutating the state.
	mu       sync.Mutex
	editor   *Editor
	revision int
}

// Do runs fn with exclusive access to the session's editor.
func (s *Session) Do(fn func(e *Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.editor)
}

// Repository defines the concurrency-safe contract for tracking open
// editing sessions.
type Repository interface {
	// Create registers a new session editing state and returns it.
	Create(sel Selector, path string, samplingRate int, state *State) *Session

	// Get returns the session with the given ID. ok is false if it is not open.
	Get(id SessionID) (sess *Session, ok bool)

	// Close forgets a session. Closing an unknown session returns
	// ErrSessionNotFound.
	Close(id SessionID) error

	// List returns the open session IDs in ascending order.
	List() []SessionID

	// OpenSessionCount returns the number of open sessions.
	// Used for metrics.
	OpenSessionCount() int
}

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(sel Selector, path string, samplingRate int, state *State) *Session {
	sess := &Session{
		ID:           SessionID(uuid.NewString()),
		Selector:     sel,
		Path:         path,
		SamplingRate: samplingRate,
		OpenedAt:     time.Now().UTC(),
		editor:       NewEditor(state),
	}
	// Every applied change bumps the revision so views can tell they are stale.
	// Listeners run inside Do, which already holds sess.mu.
	state.OnChange(func(Change) { sess.revision++ })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.SetSession(sess)
	return sess
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// Close implements Repository.Close.
func (r *InMemoryRepository) Close(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.store.DeleteSession(id) {
		return ErrSessionNotFound
	}
	return nil
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.store.ListSessionIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OpenSessionCount implements Repository.OpenSessionCount.
func (r *InMemoryRepository) OpenSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListSessionIDs())
}
