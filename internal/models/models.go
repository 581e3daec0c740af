package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Setup lifecycle of a device.
const (
	SetupUninitialized = "uninitialized"
	SetupBrandSelected = "brand_selected"
	SetupLearning      = "learning"
	SetupReady         = "ready"
)

// BrandConfig binds a device to a firmware-side brand protocol.
type BrandConfig struct {
	BrandID      string     `json:"brandId"`
	Model        int        `json:"model"`
	AutoDetected bool       `json:"autoDetected,omitempty"`
	DetectedAt   *time.Time `json:"detectedAt,omitempty"`
	Description  string     `json:"description,omitempty"`
}

// Device represents an AC controller row
type Device struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	UUID            string                 `json:"uuid"`
	OwnerID         int64                  `json:"ownerId"` // 0 denotes unbound
	BrandConfig     *BrandConfig           `json:"brandConfig"`
	IRConfig        map[string]string      `json:"irConfig"` // learned codes: "cool_26" -> raw capture
	LastState       map[string]interface{} `json:"lastState"`
	MicConfig       map[string]interface{} `json:"micConfig"`
	SetupStatus     string                 `json:"setupStatus"`
	SupportedBrands []string               `json:"supportedBrands"`
	EnableCurrent   bool                   `json:"enableCurrent"`
	IsOnline        bool                   `json:"isOnline"`
	LastSeen        *time.Time             `json:"lastSeen"`
}

// Command is a semantic AC command. All fields are optional; the firmware
// interprets whatever subset it receives.
type Command struct {
	Power           *bool  `json:"power,omitempty"`
	Mode            string `json:"mode,omitempty"` // cool, heat, fan, dry, auto
	Temp            *int   `json:"temp,omitempty"`
	Fan             *int   `json:"fan,omitempty"`
	SwingVertical   *bool  `json:"swingVertical,omitempty"`
	SwingHorizontal *bool  `json:"swingHorizontal,omitempty"`
	Brand           string `json:"brand,omitempty"`
	Model           *int   `json:"model,omitempty"`
}

// IRKey derives the learned-code lookup key for a command. Power off maps to
// "off"; otherwise mode and temp must both be present ("cool_26"). Empty
// string means no learned code can serve this command.
func (c Command) IRKey() string {
	if c.Power != nil && !*c.Power {
		return "off"
	}
	if c.Mode != "" && c.Temp != nil {
		return fmt.Sprintf("%s_%d", c.Mode, *c.Temp)
	}
	return ""
}

// Trigger is a single routine condition, e.g. { "type": "temp", "op": ">", "val": 28 }.
// Val stays raw because existing clients store thresholds as numbers or strings.
type Trigger struct {
	Type     string          `json:"type"` // temp, hum, time, weekday, date, power, mode, current
	Operator string          `json:"op"`   // >, <, =, >=, <=
	Value    json.RawMessage `json:"val"`
}

// Action is a single routine action. DeviceID 0 means "the device that
// triggered the routine".
type Action struct {
	DeviceID int64   `json:"deviceId,omitempty"`
	Command  Command `json:"cmd"`
}

// Routine kinds derived from its shape.
const (
	RoutineKindSchedule   = "schedule"
	RoutineKindAutomation = "automation"
)

// Routine is a persisted automation unit. A cron-only routine is a time
// schedule; a trigger-bearing routine is a sensor automation. Both live in
// the same entity so the cron string and trigger list cannot drift apart.
type Routine struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Enabled  bool       `json:"enabled"`
	Cron     string     `json:"cron,omitempty"`
	Triggers []Trigger  `json:"triggers"`
	Actions  []Action   `json:"actions"`
	LastRun  *time.Time `json:"lastRun"`
	OwnerID  int64      `json:"ownerId"`
}

// Kind reports whether this routine is a time schedule or a sensor automation.
func (r *Routine) Kind() string {
	if r.Cron != "" && len(r.Triggers) == 0 {
		return RoutineKindSchedule
	}
	return RoutineKindAutomation
}

// AuditAction enumerates audit log kinds.
type AuditAction string

const (
	AuditCmdAPI     AuditAction = "CMD_API"     // app/API control
	AuditCmdCron    AuditAction = "CMD_CRON"    // routine execution
	AuditSyncIR     AuditAction = "SYNC_IR"     // state synced from a physical remote
	AuditEventGhost AuditAction = "EVENT_GHOST" // ghost operation
	AuditLearn      AuditAction = "LEARN"       // IR learning
)

// AuditLog is an append-only audit row.
type AuditLog struct {
	ID        int64                  `json:"id"`
	DeviceID  int64                  `json:"deviceId"`
	OwnerID   *int64                 `json:"ownerId,omitempty"`
	Action    AuditAction            `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SensorReading is one time-series sample reported by a device.
type SensorReading struct {
	ID          int64     `json:"id"`
	DeviceID    int64     `json:"deviceId"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Current     *float64  `json:"current,omitempty"` // RMS amps
	Timestamp   time.Time `json:"timestamp"`
}

// SensorSample is the slice of a status report the rule engine cares about.
type SensorSample struct {
	Temp *float64 `json:"temp,omitempty"`
	Hum  *float64 `json:"hum,omitempty"`
}
