package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MODE", "test")
	t.Setenv("AGENT_ROLE", "viewer")
	t.Setenv("KVS_CHANNEL_NAME", "demo-channel")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, agent.RoleViewer, cfg.Role())
	assert.Equal(t, "eu-west-1", cfg.KVS.Region)
	assert.Equal(t, "h264", cfg.Media.VideoCodec)
	assert.Equal(t, 1280, cfg.Media.Width)
	assert.Equal(t, 30*time.Second, cfg.KVS.PingPeriod)
	assert.Same(t, cfg, GlobalConfig)

	bundle := cfg.Credentials()
	assert.Equal(t, "demo-channel", bundle.ChannelName)
	assert.Equal(t, "eu-west-1", bundle.Region)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  role: MASTER
kvs:
  channel_name: from-file
  broadcast_offer: true
  broadcast_retry: 500ms
media:
  video_codec: vp8
  ice_timeout: 5s
`), 0o600))

	t.Setenv("MODE", "test")
	t.Setenv("AGENT_ROLE", "viewer")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, agent.RoleMaster, cfg.Role())
	assert.Equal(t, "from-file", cfg.KVS.ChannelName)
	assert.True(t, cfg.KVS.BroadcastOffer)
	assert.Equal(t, 500*time.Millisecond, cfg.KVS.BroadcastRetry)
	assert.Equal(t, "vp8", cfg.Media.VideoCodec)
	assert.Equal(t, 5*time.Second, cfg.Media.ICETimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Agent: AgentConfig{Role: "MASTER"},
			KVS:   KVSConfig{Region: "us-west-2", ChannelName: "c"},
			Media: MediaConfig{VideoCodec: "h264", AudioCodec: "opus", Width: 640, Height: 480},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad role", func(c *Config) { c.Agent.Role = "OBSERVER" }, false},
		{"bad video codec", func(c *Config) { c.Media.VideoCodec = "av2" }, false},
		{"bad audio codec", func(c *Config) { c.Media.AudioCodec = "mp3" }, false},
		{"zero size", func(c *Config) { c.Media.Width = 0 }, false},
		{"auto start without channel", func(c *Config) { c.Agent.AutoStart = true; c.KVS.ChannelName = "" }, false},
		{"auto start with half a key pair", func(c *Config) { c.Agent.AutoStart = true; c.KVS.AccessKeyID = "AKIA" }, false},
		{"auto start complete", func(c *Config) { c.Agent.AutoStart = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig) ||
				apperrors.HasCode(err, apperrors.ErrCodeInvalidRole))
		})
	}
}

func TestApplyFile_Missing(t *testing.T) {
	c := &Config{}
	err := c.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
}
