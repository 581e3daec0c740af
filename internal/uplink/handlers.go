package uplink

import (
	"context"
	"encoding/json"
	"log"

	"acfleet/internal/models"
	"acfleet/internal/notify"
)

// handleStatus merges a status report into the device row, records sensor
// history, and forwards the sample to the rule engine. The merge only
// overwrites reported fields, so replaying an identical report is a no-op.
func (d *Dispatcher) handleStatus(ctx context.Context, device *models.Device, payload []byte) {
	data, ok := decode(payload)
	if !ok {
		return
	}

	if device.LastState == nil {
		device.LastState = make(map[string]interface{})
	}
	for k, v := range data {
		device.LastState[k] = v
	}
	now := d.now()
	device.IsOnline = true
	device.LastSeen = &now

	if err := d.repo.UpdateDevice(ctx, device); err != nil {
		log.Printf("UPLINK: Failed to persist state for device %d: %v", device.ID, err)
		return
	}

	if d.cache != nil {
		if err := d.cache.SetDeviceState(ctx, device.UUID, device.LastState); err != nil {
			log.Printf("UPLINK: Failed to cache state for %s: %v", device.UUID, err)
		}
	}

	temp := floatField(data, "temp")
	hum := floatField(data, "hum")
	current := floatField(data, "current")
	if temp != nil || hum != nil || current != nil {
		if err := d.repo.InsertSensorReading(ctx, &models.SensorReading{
			DeviceID:    device.ID,
			Temperature: temp,
			Humidity:    hum,
			Current:     current,
		}); err != nil {
			log.Printf("UPLINK: Failed to record reading for device %d: %v", device.ID, err)
		}
	}

	// A report sourced from the IR receiver means someone used a physical
	// remote and the firmware synced the observed state back.
	if stringField(data, "source") == "ir_recv" {
		d.audit(ctx, device, models.AuditSyncIR, data)
	}

	// Rule evaluation must not delay status processing.
	if err := d.evaluator.EnqueueEvaluation(device.ID, models.SensorSample{Temp: temp, Hum: hum}); err != nil {
		log.Printf("UPLINK: Failed to enqueue evaluation for device %d: %v", device.ID, err)
	}

	d.notifier.Emit(notify.EventDeviceStatus, map[string]interface{}{
		"deviceId": device.ID,
		"userId":   device.OwnerID,
		"state":    device.LastState,
	})
}

// handleEvent records out-of-band device events. Only ghost operations are
// meaningful today.
func (d *Dispatcher) handleEvent(ctx context.Context, device *models.Device, payload []byte) {
	data, ok := decode(payload)
	if !ok {
		return
	}
	if stringField(data, "type") != "ghost" {
		return
	}

	d.audit(ctx, device, models.AuditEventGhost, data)
	log.Printf("UPLINK: Ghost operation detected on device %d", device.ID)

	d.notifier.Emit(notify.EventDeviceGhost, map[string]interface{}{
		"deviceId":   device.ID,
		"userId":     device.OwnerID,
		"deviceName": device.Name,
	})
}

// handleLearnResult stores a freshly captured IR code and completes the
// matching learning session.
func (d *Dispatcher) handleLearnResult(ctx context.Context, device *models.Device, payload []byte) {
	data, ok := decode(payload)
	if !ok {
		return
	}
	key := stringField(data, "key")
	raw := stringField(data, "raw")
	if key == "" || raw == "" {
		return
	}

	if device.IRConfig == nil {
		device.IRConfig = make(map[string]string)
	}
	device.IRConfig[key] = raw
	if err := d.repo.UpdateDevice(ctx, device); err != nil {
		log.Printf("UPLINK: Failed to store learned code for device %d: %v", device.ID, err)
		return
	}

	d.audit(ctx, device, models.AuditLearn, map[string]interface{}{"key": key})
	d.learning.MarkSuccess(device.UUID, key)
	log.Printf("UPLINK: Learned IR code for %q on device %d", key, device.ID)
}

// autoDetectResult is the firmware's protocol detection verdict.
type autoDetectResult struct {
	Success     bool   `json:"success"`
	IsAC        bool   `json:"isAC"`
	Protocol    string `json:"protocol"`
	Model       int    `json:"model"`
	Description string `json:"description"`
	Power       *bool  `json:"power,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Temp        *int   `json:"temp,omitempty"`
	Fan         *int   `json:"fan,omitempty"`
}

// handleAutoDetectResult persists a successful detection as the device's
// brand binding. Failures only notify; detection is never retried
// automatically.
func (d *Dispatcher) handleAutoDetectResult(ctx context.Context, device *models.Device, payload []byte) {
	var result autoDetectResult
	if err := json.Unmarshal(payload, &result); err != nil {
		log.Printf("UPLINK: Failed to parse auto_detect result: %v", err)
		return
	}

	if result.Success && result.IsAC {
		now := d.now()
		device.BrandConfig = &models.BrandConfig{
			BrandID:      result.Protocol,
			Model:        result.Model,
			AutoDetected: true,
			DetectedAt:   &now,
			Description:  result.Description,
		}
		if err := d.repo.UpdateDevice(ctx, device); err != nil {
			log.Printf("UPLINK: Failed to store detected brand for device %d: %v", device.ID, err)
			return
		}
		d.detection.SetSuccess(device.ID, device.BrandConfig)
		log.Printf("UPLINK: Device %d auto-detected: %s model %d", device.ID, result.Protocol, result.Model)

		d.notifier.Emit(notify.EventDetectSuccess, map[string]interface{}{
			"deviceId": device.ID,
			"userId":   device.OwnerID,
			"brand":    result.Protocol,
			"model":    result.Model,
			"state": map[string]interface{}{
				"power": result.Power,
				"mode":  result.Mode,
				"temp":  result.Temp,
				"fan":   result.Fan,
			},
		})
		return
	}

	d.detection.SetFail(device.ID, result.Protocol)
	log.Printf("UPLINK: Device %d auto-detect failed (%s)", device.ID, result.Protocol)

	d.notifier.Emit(notify.EventDetectFailed, map[string]interface{}{
		"deviceId":   device.ID,
		"userId":     device.OwnerID,
		"protocol":   result.Protocol,
		"suggestion": "please_manual_select",
	})
}

// handleAutoDetectStatus forwards a progress message without persisting
// anything.
func (d *Dispatcher) handleAutoDetectStatus(device *models.Device, payload []byte) {
	data, ok := decode(payload)
	if !ok {
		return
	}
	message := stringField(data, "message")
	d.detection.SetDetecting(device.ID, message)

	d.notifier.Emit(notify.EventDetectStatus, map[string]interface{}{
		"deviceId": device.ID,
		"userId":   device.OwnerID,
		"status":   stringField(data, "status"),
		"message":  message,
		"timeout":  data["timeout"],
	})
}

// handleBrandsList refreshes the cached protocol list reported by firmware.
// Accepts a bare array or {protocols:[...]}/{brands:[...]}; empty results
// keep the prior cache.
func (d *Dispatcher) handleBrandsList(ctx context.Context, device *models.Device, payload []byte) {
	brands := parseBrandList(payload)
	if len(brands) == 0 {
		return
	}
	device.SupportedBrands = brands
	if err := d.repo.UpdateDevice(ctx, device); err != nil {
		log.Printf("UPLINK: Failed to store brand list for device %d: %v", device.ID, err)
		return
	}
	log.Printf("UPLINK: Device %d supports %d protocols", device.ID, len(brands))
}

func parseBrandList(payload []byte) []string {
	var list []string
	if err := json.Unmarshal(payload, &list); err == nil {
		return list
	}
	var wrapped struct {
		Protocols []string `json:"protocols"`
		Brands    []string `json:"brands"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		log.Printf("UPLINK: Failed to parse brand list: %v", err)
		return nil
	}
	if len(wrapped.Protocols) > 0 {
		return wrapped.Protocols
	}
	return wrapped.Brands
}

func (d *Dispatcher) audit(ctx context.Context, device *models.Device, action models.AuditAction, details map[string]interface{}) {
	if err := d.repo.InsertAuditLog(ctx, &models.AuditLog{
		DeviceID: device.ID,
		Action:   action,
		Details:  details,
	}); err != nil {
		log.Printf("UPLINK: Failed to audit %s for device %d: %v", action, device.ID, err)
	}
}
