package sessions

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"acfleet/internal/mqtt"
)

// Learning session states.
const (
	LearnIdle    = "idle"
	LearnWaiting = "waiting"
	LearnSuccess = "success"
	LearnTimeout = "timeout"
)

// DefaultLearnTimeout is how long the firmware waits for a button press.
const DefaultLearnTimeout = 30 * time.Second

// LearningSession tracks one in-flight IR capture, keyed by device uuid.
type LearningSession struct {
	Key      string    `json:"key,omitempty"`
	Status   string    `json:"status"`
	Deadline time.Time `json:"deadline,omitempty"`
}

// LearningStore holds per-device learning sessions. A later Start for the
// same device overwrites the prior session unconditionally; timeouts are
// forward-only transitions, never retried.
type LearningStore struct {
	mu       sync.Mutex
	sessions map[string]*LearningSession

	bus     mqtt.Publisher
	timeout time.Duration
	now     func() time.Time
}

// NewLearningStore creates an empty store.
func NewLearningStore(bus mqtt.Publisher) *LearningStore {
	return &LearningStore{
		sessions: make(map[string]*LearningSession),
		bus:      bus,
		timeout:  DefaultLearnTimeout,
		now:      time.Now,
	}
}

// Start publishes the learn/start command and arms the deadline. Last writer
// wins: any prior session for the device is discarded.
func (s *LearningStore) Start(ownerID int64, uuid, key string) {
	payload, _ := json.Marshal(map[string]string{"key": key})
	s.bus.Publish(mqtt.LearnStartTopic(ownerID, uuid), payload)

	sess := &LearningSession{
		Key:      key,
		Status:   LearnWaiting,
		Deadline: s.now().Add(s.timeout),
	}

	s.mu.Lock()
	s.sessions[uuid] = sess
	s.mu.Unlock()
	log.Printf("SESSIONS: Learning started for %s key %q (deadline %s)", uuid, key, sess.Deadline.Format(time.RFC3339))

	time.AfterFunc(s.timeout, func() { s.expire(uuid, sess) })
}

// expire marks the session timed out, but only if it is still the same
// session and still waiting. A success beforehand is never downgraded, and a
// restarted session keeps its own timer.
func (s *LearningStore) expire(uuid string, sess *LearningSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[uuid]; ok && current == sess && current.Status == LearnWaiting {
		current.Status = LearnTimeout
		log.Printf("SESSIONS: Learning timed out for %s key %q", uuid, current.Key)
	}
}

// MarkSuccess transitions the matching waiting session to success. Reports
// whether a session accepted the result.
func (s *LearningStore) MarkSuccess(uuid, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uuid]
	if !ok || sess.Status != LearnWaiting || sess.Key != key {
		return false
	}
	sess.Status = LearnSuccess
	return true
}

// Status returns the current session, or an idle placeholder if none exists.
func (s *LearningStore) Status(uuid string) LearningSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[uuid]; ok {
		return *sess
	}
	return LearningSession{Status: LearnIdle}
}

// Clear drops the session for a device.
func (s *LearningStore) Clear(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uuid)
}
