package sessions

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"acfleet/internal/models"
	"acfleet/internal/mqtt"
)

// Detection session states.
const (
	DetectIdle      = "idle"
	DetectDetecting = "detecting"
	DetectSuccess   = "success"
	DetectFail      = "fail"
)

// DetectStaleness is how long a cached detection state stays meaningful. An
// entry older than this reads as idle; the cache evicts it lazily.
const DetectStaleness = 120 * time.Second

// DetectionSession mirrors the device's own auto-detect progress reports,
// keyed by device id.
type DetectionSession struct {
	Status    string              `json:"status"`
	Result    *models.BrandConfig `json:"result,omitempty"`
	Message   string              `json:"message,omitempty"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// DetectionStore holds per-device detection sessions. Start/Stop only
// publish control messages; local state is driven entirely by the device's
// status and result reports coming back through the uplink.
type DetectionStore struct {
	cache *gocache.Cache
	bus   mqtt.Publisher
}

// NewDetectionStore creates a store with the 120s staleness window.
func NewDetectionStore(bus mqtt.Publisher) *DetectionStore {
	return &DetectionStore{
		cache: gocache.New(DetectStaleness, 5*time.Minute),
		bus:   bus,
	}
}

func detectKey(deviceID int64) string {
	return strconv.FormatInt(deviceID, 10)
}

// Start asks the firmware to begin protocol detection.
func (s *DetectionStore) Start(ownerID int64, uuid string) {
	payload, _ := json.Marshal(map[string]string{"action": "start"})
	s.bus.Publish(mqtt.AutoDetectTopic(ownerID, uuid), payload)
	log.Printf("SESSIONS: Auto-detect start requested for %s", uuid)
}

// Stop asks the firmware to abort protocol detection.
func (s *DetectionStore) Stop(ownerID int64, uuid string) {
	payload, _ := json.Marshal(map[string]string{"action": "stop"})
	s.bus.Publish(mqtt.AutoDetectTopic(ownerID, uuid), payload)
	log.Printf("SESSIONS: Auto-detect stop requested for %s", uuid)
}

func (s *DetectionStore) set(deviceID int64, sess DetectionSession) {
	sess.UpdatedAt = time.Now()
	s.cache.Set(detectKey(deviceID), sess, gocache.DefaultExpiration)
}

// SetDetecting records a progress report.
func (s *DetectionStore) SetDetecting(deviceID int64, message string) {
	s.set(deviceID, DetectionSession{Status: DetectDetecting, Message: message})
}

// SetSuccess records a successful detection with its result.
func (s *DetectionStore) SetSuccess(deviceID int64, result *models.BrandConfig) {
	s.set(deviceID, DetectionSession{Status: DetectSuccess, Result: result})
}

// SetFail records a failed detection. Detection is never retried
// automatically; the caller is expected to select a brand manually.
func (s *DetectionStore) SetFail(deviceID int64, message string) {
	s.set(deviceID, DetectionSession{Status: DetectFail, Message: message})
}

// Status returns the cached session, treating anything past the staleness
// window as idle.
func (s *DetectionStore) Status(deviceID int64) DetectionSession {
	if v, ok := s.cache.Get(detectKey(deviceID)); ok {
		return v.(DetectionSession)
	}
	return DetectionSession{Status: DetectIdle}
}
