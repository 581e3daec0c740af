package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUplink(t *testing.T) {
	testCases := []struct {
		name    string
		topic   string
		ownerID int64
		uuid    string
		suffix  string
		ok      bool
	}{
		{"status", "ac/user_7/dev_abc-123/status", 7, "abc-123", "status", true},
		{"nested suffix", "ac/user_42/dev_esp_01/learn/result", 42, "esp_01", "learn/result", true},
		{"auto detect result", "ac/user_1/dev_x/auto_detect/result", 1, "x", "auto_detect/result", true},
		{"owner zero", "ac/user_0/dev_x/status", 0, "x", "status", true},
		{"wrong prefix", "home/user_1/dev_x/status", 0, "", "", false},
		{"missing suffix", "ac/user_1/dev_x", 0, "", "", false},
		{"non numeric owner", "ac/user_abc/dev_x/status", 0, "", "", false},
		{"discovery topic", "ac/discovery/announce", 0, "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ownerID, uuid, suffix, ok := ParseUplink(tc.topic)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.ownerID, ownerID)
				assert.Equal(t, tc.uuid, uuid)
				assert.Equal(t, tc.suffix, suffix)
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "ac/user_7/dev_abc/cmd", CommandTopic(7, "abc"))
	assert.Equal(t, "ac/user_7/dev_abc/config", BrandConfigTopic(7, "abc"))
	assert.Equal(t, "ac/user_0/dev_abc/config/update", BindConfigTopic("abc"))
	assert.Equal(t, "ac/config/AABBCCDDEEFF", MacConfigTopic("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "ac/user_7/dev_abc/learn/start", LearnStartTopic(7, "abc"))
	assert.Equal(t, "ac/user_7/dev_abc/auto_detect", AutoDetectTopic(7, "abc"))
	assert.Equal(t, "ac/user_7/dev_abc/brands/get", BrandsGetTopic(7, "abc"))
}

func TestParseUplinkRoundTrip(t *testing.T) {
	ownerID, uuid, suffix, ok := ParseUplink(CommandTopic(12, "dev-1"))
	assert.True(t, ok)
	assert.Equal(t, int64(12), ownerID)
	assert.Equal(t, "dev-1", uuid)
	assert.Equal(t, "cmd", suffix)
}
