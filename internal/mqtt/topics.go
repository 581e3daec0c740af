package mqtt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Topic grammar (case-sensitive): ac/user_{ownerId}/dev_{uuid}/{suffix}.
// Discovery announcements arrive under ac/discovery/#.

const DiscoveryFilter = "ac/discovery/#"

// UplinkFilters lists the device-to-server suffixes the backend consumes.
var UplinkFilters = []string{
	"ac/+/+/status",
	"ac/+/+/event",
	"ac/+/+/learn/result",
	"ac/+/+/auto_detect/result",
	"ac/+/+/auto_detect/status",
	"ac/+/+/brands/list",
}

var uplinkRe = regexp.MustCompile(`^ac/user_(\d+)/dev_([A-Za-z0-9_\-]+)/(.+)$`)

// ParseUplink splits a device topic into owner id, device uuid and suffix.
// ok is false for topics outside the grammar.
func ParseUplink(topic string) (ownerID int64, uuid, suffix string, ok bool) {
	m := uplinkRe.FindStringSubmatch(topic)
	if m == nil {
		return 0, "", "", false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", "", false
	}
	return id, m[2], m[3], true
}

func deviceTopic(ownerID int64, uuid, suffix string) string {
	return fmt.Sprintf("ac/user_%d/dev_%s/%s", ownerID, uuid, suffix)
}

// CommandTopic addresses semantic/raw commands to a bound device.
func CommandTopic(ownerID int64, uuid string) string {
	return deviceTopic(ownerID, uuid, "cmd")
}

// BrandConfigTopic carries {brand, model} to a bound device.
func BrandConfigTopic(ownerID int64, uuid string) string {
	return deviceTopic(ownerID, uuid, "config")
}

// BindConfigTopic carries bind/unbind updates. Unbound devices listen on the
// owner-zero topic, so binding pushes always go there.
func BindConfigTopic(uuid string) string {
	return deviceTopic(0, uuid, "config/update")
}

// MacConfigTopic is the MAC-derived fallback config topic the firmware
// subscribes to regardless of its bind state (colons stripped).
func MacConfigTopic(mac string) string {
	return "ac/config/" + strings.ReplaceAll(mac, ":", "")
}

// LearnStartTopic starts IR learning for one key.
func LearnStartTopic(ownerID int64, uuid string) string {
	return deviceTopic(ownerID, uuid, "learn/start")
}

// AutoDetectTopic carries {action: start|stop} protocol detection control.
func AutoDetectTopic(ownerID int64, uuid string) string {
	return deviceTopic(ownerID, uuid, "auto_detect")
}

// BrandsGetTopic asks the firmware to report its supported protocol list.
func BrandsGetTopic(ownerID int64, uuid string) string {
	return deviceTopic(ownerID, uuid, "brands/get")
}
