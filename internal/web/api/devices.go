package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"acfleet/internal/apperr"
	"acfleet/internal/commands"
	"acfleet/internal/devlock"
	"acfleet/internal/discovery"
	"acfleet/internal/models"
	"acfleet/internal/mqtt"
	"acfleet/internal/redis"
	"acfleet/internal/sessions"
	"acfleet/internal/web/middleware"
)

// DeviceStore is the slice of persistence the device routes need; satisfied
// by *db.DB.
type DeviceStore interface {
	GetDevicesByOwner(ctx context.Context, ownerID int64) ([]models.Device, error)
	GetDeviceByID(ctx context.Context, id int64) (*models.Device, error)
	InsertDevice(ctx context.Context, dev *models.Device) error
	UpdateDevice(ctx context.Context, dev *models.Device) error
	DeleteDevice(ctx context.Context, id int64) error
	GetAuditLogs(ctx context.Context, deviceID int64, limit int, action string, since *time.Time) ([]models.AuditLog, error)
	GetSensorReadings(ctx context.Context, deviceID int64, limit int) ([]models.SensorReading, error)
}

// DeviceDeps bundles what the device routes need.
type DeviceDeps struct {
	DB        DeviceStore
	Router    *commands.Router
	Registry  *discovery.Registry
	Learning  *sessions.LearningStore
	Detection *sessions.DetectionStore
	Bus       mqtt.Publisher
	State     *redis.StateCache
	Locks     *devlock.Locker
}

// fetchOwned loads a device by the :id param and enforces ownership,
// writing the error response itself when it fails.
func fetchOwned(c *gin.Context, database DeviceStore) (*models.Device, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid device id"})
		return nil, false
	}
	device, err := database.GetDeviceByID(c, id)
	if errors.Is(err, apperr.ErrNotFound) {
		c.JSON(404, gin.H{"error": "Device not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to fetch device"})
		return nil, false
	}
	if device.OwnerID != middleware.UserID(c) {
		c.JSON(403, gin.H{"error": "Access denied"})
		return nil, false
	}
	return device, true
}

// applyOwned read-modify-writes an owned device row under its per-device lock.
// The row is re-fetched once the lock is held: the pre-lock read only resolves
// ownership and the uuid, and may already be stale by the time the lock is
// acquired. The locker is the same instance the uplink dispatcher uses, so an
// HTTP mutation can never race a bus-driven merge on the same row.
func applyOwned(c *gin.Context, deps DeviceDeps, errMsg string, mutate func(*models.Device)) (*models.Device, bool) {
	device, ok := fetchOwned(c, deps.DB)
	if !ok {
		return nil, false
	}
	unlock := deps.Locks.Lock(device.UUID)
	defer unlock()
	device, err := deps.DB.GetDeviceByID(c, device.ID)
	if err != nil {
		c.JSON(500, gin.H{"error": errMsg})
		return nil, false
	}
	mutate(device)
	if err := deps.DB.UpdateDevice(c, device); err != nil {
		c.JSON(500, gin.H{"error": errMsg})
		return nil, false
	}
	return device, true
}

func RegisterDeviceRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps DeviceDeps) {
	devices := r.Group("/devices")
	devices.Use(mw.RequireAuth())
	{
		devices.GET("", func(c *gin.Context) {
			list, err := deps.DB.GetDevicesByOwner(c, middleware.UserID(c))
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to fetch devices"})
				return
			}
			c.JSON(200, list)
		})

		devices.POST("", func(c *gin.Context) {
			var req struct {
				Name string `json:"name" binding:"required"`
				UUID string `json:"uuid" binding:"required"`
				MAC  string `json:"mac"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "Invalid request"})
				return
			}
			device := &models.Device{
				Name:    req.Name,
				UUID:    req.UUID,
				OwnerID: middleware.UserID(c),
			}
			if err := deps.DB.InsertDevice(c, device); err != nil {
				c.JSON(500, gin.H{"error": "Failed to create device"})
				return
			}

			// Push the binding so the (still unbound) firmware adopts it,
			// and stop advertising the device as available.
			payload, _ := json.Marshal(map[string]interface{}{
				"userId":    device.OwnerID,
				"deviceId":  device.ID,
				"timestamp": time.Now().UnixMilli(),
			})
			deps.Bus.Publish(mqtt.BindConfigTopic(device.UUID), payload)
			if req.MAC != "" {
				deps.Bus.Publish(mqtt.MacConfigTopic(req.MAC), payload)
			}
			deps.Registry.Remove(device.UUID)

			c.JSON(201, device)
		})

		devices.GET("/discovery/available", func(c *gin.Context) {
			maxAge := discovery.DefaultListMaxAge
			if v := c.Query("maxAge"); v != "" {
				if minutes, err := strconv.Atoi(v); err == nil {
					maxAge = time.Duration(minutes) * time.Minute
				}
			}
			found := deps.Registry.ListAvailable(maxAge)
			c.JSON(200, gin.H{"devices": found, "count": deps.Registry.Count()})
		})

		devices.POST("/discovery/cleanup", func(c *gin.Context) {
			count := deps.Registry.EvictStale(discovery.DefaultEvictMaxAge)
			c.JSON(200, gin.H{"cleanedCount": count})
		})

		devices.GET("/brands", func(c *gin.Context) {
			c.JSON(200, gin.H{"brands": brandCatalog})
		})

		devices.DELETE("/:id", func(c *gin.Context) {
			device, ok := fetchOwned(c, deps.DB)
			if !ok {
				return
			}
			if err := deps.DB.DeleteDevice(c, device.ID); err != nil {
				c.JSON(500, gin.H{"error": "Failed to delete device"})
				return
			}
			c.JSON(200, gin.H{"status": "deleted"})
		})

		devices.POST("/:id/cmd", func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(400, gin.H{"error": "Invalid device id"})
				return
			}
			var cmd models.Command
			if err := c.ShouldBindJSON(&cmd); err != nil {
				c.JSON(400, gin.H{"error": "Invalid command"})
				return
			}
			result, err := deps.Router.Send(c, middleware.UserID(c), id, cmd, models.AuditCmdAPI)
			if errors.Is(err, apperr.ErrNotFound) {
				c.JSON(404, gin.H{"error": "Device not found"})
				return
			}
			if errors.Is(err, apperr.ErrForbidden) {
				c.JSON(403, gin.H{"error": "Access denied"})
				return
			}
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to send command"})
				return
			}
			c.JSON(200, gin.H{
				"success":  true,
				"topic":    result.Topic,
				"payload":  json.RawMessage(result.Payload),
				"strategy": result.Strategy,
			})
		})

		devices.GET("/:id/logs", func(c *gin.Context) {
			device, ok := fetchOwned(c, deps.DB)
			if !ok {
				return
			}
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			var since *time.Time
			if v := c.Query("since"); v != "" {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					since = &t
				}
			}
			logs, err := deps.DB.GetAuditLogs(c, device.ID, limit, c.Query("action"), since)
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to fetch logs"})
				return
			}
			c.JSON(200, logs)
		})

		devices.GET("/:id/readings", func(c *gin.Context) {
			device, ok := fetchOwned(c, deps.DB)
			if !ok {
				return
			}
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
			readings, err := deps.DB.GetSensorReadings(c, device.ID, limit)
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to fetch readings"})
				return
			}
			c.JSON(200, readings)
		})

		devices.GET("/:id/state", func(c *gin.Context) {
			device, ok := fetchOwned(c, deps.DB)
			if !ok {
				return
			}
			// Hot path reads Redis; the device row is the fallback.
			if deps.State != nil {
				if state, err := deps.State.GetDeviceState(c, device.UUID); err == nil && state != nil {
					c.JSON(200, gin.H{"deviceId": device.ID, "state": state, "isOnline": device.IsOnline, "source": "cache"})
					return
				}
			}
			c.JSON(200, gin.H{"deviceId": device.ID, "state": device.LastState, "isOnline": device.IsOnline, "source": "db"})
		})

		devices.GET("/:id/config", func(c *gin.Context) {
			device, ok := fetchOwned(c, deps.DB)
			if !ok {
				return
			}
			c.JSON(200, gin.H{
				"id":          device.ID,
				"name":        device.Name,
				"uuid":        device.UUID,
				"brandConfig": device.BrandConfig,
				"micConfig":   device.MicConfig,
				"irConfig":    device.IRConfig,
				"lastState":   device.LastState,
			})
		})

		devices.PATCH("/:id/config", func(c *gin.Context) {
			var req struct {
				Name          *string                `json:"name"`
				BrandConfig   *models.BrandConfig    `json:"brandConfig"`
				MicConfig     map[string]interface{} `json:"micConfig"`
				IRConfig      map[string]string      `json:"irConfig"`
				EnableCurrent *bool                  `json:"enableCurrent"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "Invalid request"})
				return
			}
			device, ok := applyOwned(c, deps, "Failed to update config", func(device *models.Device) {
				if req.Name != nil {
					device.Name = *req.Name
				}
				if req.BrandConfig != nil {
					device.BrandConfig = req.BrandConfig
				}
				if req.MicConfig != nil {
					if device.MicConfig == nil {
						device.MicConfig = make(map[string]interface{})
					}
					for k, v := range req.MicConfig {
						device.MicConfig[k] = v
					}
				}
				if req.IRConfig != nil {
					device.IRConfig = req.IRConfig
				}
				if req.EnableCurrent != nil {
					device.EnableCurrent = *req.EnableCurrent
				}
			})
			if !ok {
				return
			}
			c.JSON(200, device)
		})

		registerLearnRoutes(devices, deps)
		registerSetupRoutes(devices, deps)
		registerDetectRoutes(devices, deps)
	}
}

func registerLearnRoutes(g *gin.RouterGroup, deps DeviceDeps) {
	g.POST("/:id/learn/start", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request"})
			return
		}
		deps.Learning.Start(device.OwnerID, device.UUID, req.Key)
		c.JSON(200, gin.H{"message": "Learning started", "key": req.Key})
	})

	g.GET("/:id/learn/status", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		c.JSON(200, deps.Learning.Status(device.UUID))
	})

	g.DELETE("/:id/learn/:key", func(c *gin.Context) {
		key := c.Param("key")
		if _, ok := applyOwned(c, deps, "Failed to delete code", func(device *models.Device) {
			delete(device.IRConfig, key)
		}); !ok {
			return
		}
		c.JSON(200, gin.H{"message": "Deleted"})
	})
}

func registerSetupRoutes(g *gin.RouterGroup, deps DeviceDeps) {
	g.GET("/:id/setup/status", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		keys := make([]string, 0, len(device.IRConfig))
		for k := range device.IRConfig {
			keys = append(keys, k)
		}
		c.JSON(200, gin.H{
			"setupStatus": device.SetupStatus,
			"brandConfig": device.BrandConfig,
			"learnedKeys": keys,
		})
	})

	g.POST("/:id/setup/brand", func(c *gin.Context) {
		var req struct {
			BrandID string `json:"brandId" binding:"required"`
			Model   int    `json:"model"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request"})
			return
		}
		device, ok := applyOwned(c, deps, "Failed to set brand", func(device *models.Device) {
			device.BrandConfig = &models.BrandConfig{BrandID: req.BrandID, Model: req.Model}
			device.SetupStatus = models.SetupBrandSelected
		})
		if !ok {
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{"brand": req.BrandID, "model": req.Model})
		deps.Bus.Publish(mqtt.BrandConfigTopic(device.OwnerID, device.UUID), payload)
		log.Printf("WEB: Device %d brand set to %s model %d", device.ID, req.BrandID, req.Model)

		c.JSON(200, device)
	})

	g.POST("/:id/setup/learn-all", func(c *gin.Context) {
		var req struct {
			Keys []string `json:"keys" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request"})
			return
		}
		if _, ok := applyOwned(c, deps, "Failed to update status", func(device *models.Device) {
			device.SetupStatus = models.SetupLearning
		}); !ok {
			return
		}
		c.JSON(200, gin.H{"message": "Learning started", "keys": req.Keys, "totalKeys": len(req.Keys)})
	})

	g.POST("/:id/setup/complete", func(c *gin.Context) {
		device, ok := applyOwned(c, deps, "Failed to complete setup", func(device *models.Device) {
			device.SetupStatus = models.SetupReady
		})
		if !ok {
			return
		}
		c.JSON(200, gin.H{"message": "Setup completed", "device": device})
	})

	g.POST("/:id/brands/query", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		deps.Bus.Publish(mqtt.BrandsGetTopic(device.OwnerID, device.UUID), []byte("{}"))
		c.JSON(200, gin.H{"message": "Brand query sent", "cached": device.SupportedBrands})
	})
}

func registerDetectRoutes(g *gin.RouterGroup, deps DeviceDeps) {
	g.POST("/:id/auto-detect/start", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		deps.Detection.Start(device.OwnerID, device.UUID)
		c.JSON(200, gin.H{
			"deviceId": device.ID,
			"status":   sessions.DetectDetecting,
			"timeout":  30,
		})
	})

	g.POST("/:id/auto-detect/stop", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		deps.Detection.Stop(device.OwnerID, device.UUID)
		c.JSON(200, gin.H{"deviceId": device.ID, "status": sessions.DetectIdle})
	})

	g.GET("/:id/auto-detect/status", func(c *gin.Context) {
		device, ok := fetchOwned(c, deps.DB)
		if !ok {
			return
		}
		c.JSON(200, deps.Detection.Status(device.ID))
	})
}
