package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"acfleet/internal/apperr"
	"acfleet/internal/models"
	"acfleet/internal/mqtt"
)

// Defaults for staleness windows.
const (
	DefaultListMaxAge  = 5 * time.Minute
	DefaultEvictMaxAge = 10 * time.Minute
)

// Discovered is an unbound device seen on the discovery topic. Never
// persisted; the cache empties on restart.
type Discovered struct {
	UUID      string    `json:"uuid"`
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Brand     string    `json:"brand"`
	Model     int       `json:"model"`
	Timestamp int64     `json:"timestamp"`
	LastSeen  time.Time `json:"lastSeen"`
}

// DeviceFinder is the slice of the repository the registry needs for
// conflict recovery.
type DeviceFinder interface {
	GetDeviceByUUID(ctx context.Context, uuid string) (*models.Device, error)
}

// Registry is the in-memory TTL cache of discovery announcements.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Discovered

	finder DeviceFinder
	bus    mqtt.Publisher
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(finder DeviceFinder, bus mqtt.Publisher) *Registry {
	return &Registry{
		devices: make(map[string]Discovered),
		finder:  finder,
		bus:     bus,
		now:     time.Now,
	}
}

// announcement is the wire shape of a discovery message. userId is flexible
// because some firmware builds send it as a string.
type announcement struct {
	UUID      string      `json:"uuid"`
	MAC       string      `json:"mac"`
	IP        string      `json:"ip"`
	UserID    interface{} `json:"userId"`
	Brand     string      `json:"brand"`
	Model     int         `json:"model"`
	Timestamp int64       `json:"timestamp"`
}

func (a announcement) ownerID() int64 {
	switch v := a.UserID.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// HandleMessage consumes one message from ac/discovery/#. Malformed payloads
// are dropped with a warning; this runs inside an async bus handler with no
// one to surface errors to.
func (r *Registry) HandleMessage(topic string, payload []byte) {
	var ann announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		log.Printf("DISCOVERY: Failed to parse announcement on %s: %v", topic, err)
		return
	}
	if ann.UUID == "" || ann.MAC == "" {
		log.Printf("DISCOVERY: Dropping announcement missing uuid/mac: %s", payload)
		return
	}

	if ann.ownerID() != 0 {
		// Already bound; make sure it is not advertised as available.
		if r.Remove(ann.UUID) {
			log.Printf("DISCOVERY: Device %s is bound (user %d), removed from cache", ann.UUID, ann.ownerID())
		}
		return
	}

	// The firmware believes it is unbound. If the registry disagrees (row
	// still bound, e.g. after a factory reset) push the binding back so the
	// device self-heals instead of showing up as available.
	if dev, err := r.finder.GetDeviceByUUID(context.Background(), ann.UUID); err == nil && dev.OwnerID != 0 {
		r.recover(dev, ann.MAC)
		return
	} else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		// Can't prove the device is unbound, so it must not be advertised as
		// available. Drop it; the firmware re-announces on its own cadence.
		log.Printf("DISCOVERY: Conflict lookup failed for %s, dropping announcement: %v", ann.UUID, err)
		return
	}

	entry := Discovered{
		UUID:      ann.UUID,
		MAC:       ann.MAC,
		IP:        ann.IP,
		Brand:     ann.Brand,
		Model:     ann.Model,
		Timestamp: ann.Timestamp,
		LastSeen:  r.now(),
	}
	if entry.IP == "" {
		entry.IP = "unknown"
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = r.now().UnixMilli()
	}

	r.mu.Lock()
	r.devices[ann.UUID] = entry
	r.mu.Unlock()
	log.Printf("DISCOVERY: Added device %s (%s) IP %s", ann.UUID, ann.MAC, entry.IP)
}

// recover re-pushes the stored binding to both topics the firmware listens
// on regardless of its bind state, plus the brand binding if one exists.
func (r *Registry) recover(dev *models.Device, mac string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"userId":    dev.OwnerID,
		"deviceId":  dev.ID,
		"timestamp": r.now().UnixMilli(),
	})
	r.bus.Publish(mqtt.BindConfigTopic(dev.UUID), payload)
	r.bus.Publish(mqtt.MacConfigTopic(mac), payload)
	log.Printf("DISCOVERY: Recovery push for %s (bound to user %d)", dev.UUID, dev.OwnerID)

	if dev.BrandConfig != nil && dev.BrandConfig.BrandID != "" {
		brand, _ := json.Marshal(map[string]interface{}{
			"brand": dev.BrandConfig.BrandID,
			"model": dev.BrandConfig.Model,
		})
		r.bus.Publish(mqtt.BrandConfigTopic(dev.OwnerID, dev.UUID), brand)
	}
}

// ListAvailable returns entries seen within maxAge (default 5 minutes).
// Order is unspecified.
func (r *Registry) ListAvailable(maxAge time.Duration) []Discovered {
	if maxAge <= 0 {
		maxAge = DefaultListMaxAge
	}
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Discovered, 0, len(r.devices))
	for _, d := range r.devices {
		if now.Sub(d.LastSeen) < maxAge {
			out = append(out, d)
		}
	}
	return out
}

// EvictStale removes entries not seen for maxAge (default 10 minutes) and
// returns the count evicted. Safe to run concurrently with mutations.
func (r *Registry) EvictStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultEvictMaxAge
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for uuid, d := range r.devices {
		if now.Sub(d.LastSeen) >= maxAge {
			delete(r.devices, uuid)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("DISCOVERY: Evicted %d stale devices", evicted)
	}
	return evicted
}

// Remove drops one entry, e.g. once the device has been bound.
func (r *Registry) Remove(uuid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[uuid]; ok {
		delete(r.devices, uuid)
		return true
	}
	return false
}

// Count reports cached entries regardless of age.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
