package api

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acfleet/internal/apperr"
	"acfleet/internal/devlock"
	"acfleet/internal/models"
)

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[int64]*models.Device
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[int64]*models.Device)}
}

func (f *fakeDeviceStore) GetDeviceByID(ctx context.Context, id int64) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *dev
	if dev.IRConfig != nil {
		copied.IRConfig = make(map[string]string, len(dev.IRConfig))
		for k, v := range dev.IRConfig {
			copied.IRConfig[k] = v
		}
	}
	return &copied, nil
}

func (f *fakeDeviceStore) UpdateDevice(ctx context.Context, dev *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *dev
	f.devices[dev.ID] = &copied
	return nil
}

func (f *fakeDeviceStore) GetDevicesByOwner(ctx context.Context, ownerID int64) ([]models.Device, error) {
	return nil, nil
}

func (f *fakeDeviceStore) InsertDevice(ctx context.Context, dev *models.Device) error { return nil }

func (f *fakeDeviceStore) DeleteDevice(ctx context.Context, id int64) error { return nil }

func (f *fakeDeviceStore) GetAuditLogs(ctx context.Context, deviceID int64, limit int, action string, since *time.Time) ([]models.AuditLog, error) {
	return nil, nil
}

func (f *fakeDeviceStore) GetSensorReadings(ctx context.Context, deviceID int64, limit int) ([]models.SensorReading, error) {
	return nil, nil
}

func testCtx(t *testing.T, id string, userID int64) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: id}}
	c.Set("user_id", userID)
	return c, rec
}

func TestApplyOwnedConcurrentMutationsAllPersist(t *testing.T) {
	store := newFakeDeviceStore()
	store.devices[1] = &models.Device{ID: 1, UUID: "esp-1", OwnerID: 7}
	deps := DeviceDeps{DB: store, Locks: devlock.New()}

	// Each request merges one learned code into the same row. A handler that
	// reads outside the critical section would overwrite its neighbors'
	// merges with its own stale snapshot.
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _ := testCtx(t, "1", 7)
			_, ok := applyOwned(c, deps, "Failed to update config", func(device *models.Device) {
				if device.IRConfig == nil {
					device.IRConfig = make(map[string]string)
				}
				device.IRConfig[fmt.Sprintf("key_%d", i)] = "0xABCD"
			})
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	final, err := store.GetDeviceByID(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, final.IRConfig, n)
	for i := 0; i < n; i++ {
		assert.Contains(t, final.IRConfig, fmt.Sprintf("key_%d", i))
	}
}

func TestApplyOwnedRejectsForeignDevice(t *testing.T) {
	store := newFakeDeviceStore()
	store.devices[1] = &models.Device{ID: 1, UUID: "esp-1", OwnerID: 7}
	deps := DeviceDeps{DB: store, Locks: devlock.New()}

	c, rec := testCtx(t, "1", 8)
	_, ok := applyOwned(c, deps, "Failed to update config", func(device *models.Device) {
		device.Name = "hijacked"
	})

	assert.False(t, ok)
	assert.Equal(t, 403, rec.Code)
	final, _ := store.GetDeviceByID(context.Background(), 1)
	assert.Empty(t, final.Name)
}

func TestApplyOwnedUnknownDevice(t *testing.T) {
	store := newFakeDeviceStore()
	deps := DeviceDeps{DB: store, Locks: devlock.New()}

	c, rec := testCtx(t, "99", 7)
	_, ok := applyOwned(c, deps, "Failed to update config", func(device *models.Device) {})

	assert.False(t, ok)
	assert.Equal(t, 404, rec.Code)
}
