package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress describes what an orchestrator is currently doing.
type Progress struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// Snapshot is an immutable copy of a session. Scenes and Images are never
// mutated after publication, so snapshots share their backing arrays.
type Snapshot struct {
	ID          string      `json:"id"`
	Prompt      string      `json:"prompt"`
	AspectRatio AspectRatio `json:"aspectRatio"`
	Scenes      []string    `json:"scenes"`
	Images      []string    `json:"images"`
	Generation  Progress    `json:"generation"`
	Download    Progress    `json:"download"`
	Error       string      `json:"error,omitempty"`
	Version     uint64      `json:"version"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Session is the state shared by the generation and export orchestrators.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	prompt     string
	aspect     AspectRatio
	scenes     []string
	images     []string
	generation Progress
	download   Progress
	errMsg     string
	version    uint64
	updatedAt  time.Time

	subs    map[int]*Subscription
	nextSub int
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		aspect:    DefaultAspectRatio,
		images:    []string{},
		updatedAt: now,
		subs:      make(map[int]*Subscription),
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          s.ID,
		Prompt:      s.prompt,
		AspectRatio: s.aspect,
		Scenes:      s.scenes,
		Images:      s.images,
		Generation:  s.generation,
		Download:    s.download,
		Error:       s.errMsg,
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
	}
}

// update runs fn under the lock and publishes the resulting snapshot.
func (s *Session) update(fn func()) {
	s.mutate(func() bool {
		fn()
		return true
	})
}

// mutate runs fn under the lock and publishes only when fn reports a change.
func (s *Session) mutate(fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn() {
		return false
	}
	s.version++
	s.updatedAt = time.Now()
	snap := s.snapshotLocked()
	for _, sub := range s.subs {
		sub.push(snap)
	}
	return true
}

// Subscribe registers for every snapshot published after the call.
func (s *Session) Subscribe() *Subscription {
	sub := &Subscription{ready: make(chan struct{}, 1)}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	return sub
}

// maxPending bounds the queue of a reader that stopped reading; the oldest
// entry is dropped beyond it.
const maxPending = 64

// Subscription queues published snapshots in order for one reader. A snapshot
// that only changes messages or flags replaces a queued one carrying the same
// image list; a snapshot with a new image list is always queued, so readers
// observe every step of a run's image list.
type Subscription struct {
	mu      sync.Mutex
	pending []Snapshot
	ready   chan struct{}
	cancel  func()
}

func (sub *Subscription) push(snap Snapshot) {
	sub.mu.Lock()
	n := len(sub.pending)
	switch {
	case n > 0 && sameImageList(sub.pending[n-1].Images, snap.Images):
		sub.pending[n-1] = snap
	case n >= maxPending:
		sub.pending = append(sub.pending[1:], snap)
	default:
		sub.pending = append(sub.pending, snap)
	}
	sub.mu.Unlock()

	select {
	case sub.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after a push. Drain with Next until it reports false.
func (sub *Subscription) Ready() <-chan struct{} {
	return sub.ready
}

// Next pops the oldest queued snapshot.
func (sub *Subscription) Next() (Snapshot, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.pending) == 0 {
		return Snapshot{}, false
	}
	snap := sub.pending[0]
	sub.pending = sub.pending[1:]
	return snap, true
}

// Close unsubscribes. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.cancel()
}

// sameImageList reports whether two published lists are the same publication.
// Lists are replaced wholesale, so identity of the backing array is enough.
func sameImageList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *Session) AspectRatio() AspectRatio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aspect
}

func (s *Session) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images
}

func (s *Session) SetPrompt(prompt string) {
	s.update(func() { s.prompt = prompt })
}

func (s *Session) SetAspectRatio(a AspectRatio) {
	s.update(func() { s.aspect = a })
}

func (s *Session) SetError(msg string) {
	s.update(func() { s.errMsg = msg })
}

// BeginGeneration marks a run active and resets the run state. It reports
// false, changing nothing, when a run is already active.
func (s *Session) BeginGeneration(message string) bool {
	return s.mutate(func() bool {
		if s.generation.Active {
			return false
		}
		s.errMsg = ""
		s.scenes = nil
		s.images = []string{}
		s.generation = Progress{Active: true, Message: message}
		return true
	})
}

func (s *Session) SetGenerationMessage(message string) {
	s.update(func() { s.generation.Message = message })
}

func (s *Session) SetScenes(scenes []string) {
	cp := append([]string(nil), scenes...)
	s.update(func() { s.scenes = cp })
}

// PublishImages replaces the image list with a copy of images.
func (s *Session) PublishImages(images []string) {
	cp := append([]string{}, images...)
	s.update(func() { s.images = cp })
}

func (s *Session) FinishGeneration(message string) {
	s.update(func() { s.generation = Progress{Message: message} })
}

func (s *Session) FailGeneration(errMsg string) {
	s.update(func() {
		s.generation = Progress{}
		s.errMsg = errMsg
	})
}

// BeginDownload marks an export active and clears the error slot. It reports
// false, changing nothing, when an export is already active.
func (s *Session) BeginDownload(message string) bool {
	return s.mutate(func() bool {
		if s.download.Active {
			return false
		}
		s.errMsg = ""
		s.download = Progress{Active: true, Message: message}
		return true
	})
}

func (s *Session) SetDownloadMessage(message string) {
	s.update(func() { s.download.Message = message })
}

func (s *Session) EndDownload() {
	s.update(func() { s.download = Progress{} })
}

// SessionStore keeps sessions in memory only.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

func (st *SessionStore) Create() *Session {
	s := NewSession(uuid.NewString())
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
