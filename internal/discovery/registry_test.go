package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acfleet/internal/apperr"
	"acfleet/internal/models"
)

type fakeFinder struct {
	devices map[string]*models.Device
	err     error
}

func (f *fakeFinder) GetDeviceByUUID(ctx context.Context, uuid string) (*models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	if dev, ok := f.devices[uuid]; ok {
		return dev, nil
	}
	return nil, apperr.ErrNotFound
}

type fakeBus struct {
	topics   []string
	payloads [][]byte
}

func (f *fakeBus) Publish(topic string, payload []byte) {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
}

func newTestRegistry(t *testing.T) (*Registry, *fakeFinder, *fakeBus, *time.Time) {
	t.Helper()
	finder := &fakeFinder{devices: make(map[string]*models.Device)}
	bus := &fakeBus{}
	reg := NewRegistry(finder, bus)
	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	return reg, finder, bus, &clock
}

func announce(t *testing.T, reg *Registry, fields map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	reg.HandleMessage("ac/discovery/announce", payload)
}

func TestAnnouncementAppearsInList(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{
		"uuid": "esp-1", "mac": "AA:BB:CC:DD:EE:FF", "ip": "10.0.0.5", "userId": 0,
	})

	list := reg.ListAvailable(0)
	require.Len(t, list, 1)
	assert.Equal(t, "esp-1", list[0].UUID)
	assert.Equal(t, "10.0.0.5", list[0].IP)
}

func TestAnnouncementDefaultsMissingFields(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB"})

	list := reg.ListAvailable(0)
	require.Len(t, list, 1)
	assert.Equal(t, "unknown", list[0].IP)
	assert.NotZero(t, list[0].Timestamp)
}

func TestMalformedAnnouncementsDropped(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	reg.HandleMessage("ac/discovery/announce", []byte("not json"))
	announce(t, reg, map[string]interface{}{"mac": "AA:BB"})          // no uuid
	announce(t, reg, map[string]interface{}{"uuid": "esp-1"})         // no mac
	announce(t, reg, map[string]interface{}{"uuid": "", "mac": "AA"}) // empty uuid

	assert.Zero(t, reg.Count())
}

func TestBoundAnnouncementRemovesEntry(t *testing.T) {
	reg, _, bus, _ := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": 0})
	require.Equal(t, 1, reg.Count())

	// The firmware now reports it is bound; the cache entry must go.
	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": 7})
	assert.Zero(t, reg.Count())
	assert.Empty(t, bus.topics, "bound announcements never trigger pushes")
}

func TestStringUserIDAccepted(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": "0"})
	assert.Equal(t, 1, reg.Count())

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": "7"})
	assert.Zero(t, reg.Count())
}

func TestConflictRecoveryPushesBinding(t *testing.T) {
	reg, finder, bus, _ := newTestRegistry(t)
	finder.devices["esp-1"] = &models.Device{
		ID: 42, UUID: "esp-1", OwnerID: 7,
		BrandConfig: &models.BrandConfig{BrandID: "GREE", Model: 1},
	}

	// Firmware claims unbound but the row says owner 7: recovery, not listing.
	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB:CC:DD:EE:FF", "userId": 0})

	assert.Zero(t, reg.Count(), "recovered device must not be advertised as available")
	require.Len(t, bus.topics, 3)
	assert.Equal(t, "ac/user_0/dev_esp-1/config/update", bus.topics[0])
	assert.Equal(t, "ac/config/AABBCCDDEEFF", bus.topics[1])
	assert.Equal(t, "ac/user_7/dev_esp-1/config", bus.topics[2])

	var bind map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.payloads[0], &bind))
	assert.Equal(t, float64(7), bind["userId"])
	assert.Equal(t, float64(42), bind["deviceId"])

	var brand map[string]interface{}
	require.NoError(t, json.Unmarshal(bus.payloads[2], &brand))
	assert.Equal(t, "GREE", brand["brand"])
}

func TestConflictRecoveryWithoutBrandSkipsBrandPush(t *testing.T) {
	reg, finder, bus, _ := newTestRegistry(t)
	finder.devices["esp-1"] = &models.Device{ID: 42, UUID: "esp-1", OwnerID: 7}

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": 0})
	assert.Len(t, bus.topics, 2)
}

func TestConflictLookupFailureDropsAnnouncement(t *testing.T) {
	reg, finder, bus, _ := newTestRegistry(t)
	finder.err = errors.New("connection refused")

	// The lookup couldn't prove the device is unbound, so advertising it
	// would let a bound device show up as available during a DB outage.
	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:BB", "userId": 0})

	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, bus.topics)
}

func TestListAvailableFiltersByAge(t *testing.T) {
	reg, _, _, clock := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "old", "mac": "AA:01", "userId": 0})
	*clock = clock.Add(6 * time.Minute)
	announce(t, reg, map[string]interface{}{"uuid": "fresh", "mac": "AA:02", "userId": 0})

	list := reg.ListAvailable(0)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].UUID)

	// Both still cached until eviction runs.
	assert.Equal(t, 2, reg.Count())
}

func TestEvictStale(t *testing.T) {
	reg, _, _, clock := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "old", "mac": "AA:01", "userId": 0})
	*clock = clock.Add(11 * time.Minute)
	announce(t, reg, map[string]interface{}{"uuid": "fresh", "mac": "AA:02", "userId": 0})

	assert.Equal(t, 1, reg.EvictStale(0))
	assert.Equal(t, 1, reg.Count())
	assert.Zero(t, reg.EvictStale(0), "second sweep finds nothing")
}

func TestReannouncementRefreshesLastSeen(t *testing.T) {
	reg, _, _, clock := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:01", "userId": 0})
	*clock = clock.Add(4 * time.Minute)
	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:01", "userId": 0})
	*clock = clock.Add(4 * time.Minute)

	// 8 minutes after first sighting but only 4 after the refresh.
	assert.Len(t, reg.ListAvailable(0), 1)
	assert.Equal(t, 1, reg.Count())
}

func TestRemove(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	announce(t, reg, map[string]interface{}{"uuid": "esp-1", "mac": "AA:01", "userId": 0})
	assert.True(t, reg.Remove("esp-1"))
	assert.False(t, reg.Remove("esp-1"))
	assert.Zero(t, reg.Count())
}
