package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/LingByte/kvs-agent/pkg/constants"
	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/utils"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	rtcconst "github.com/LingByte/kvs-agent/pkg/webrtc/constants"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the status/control HTTP server configuration
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AgentConfig controls session startup and peer housekeeping
type AgentConfig struct {
	Role         string        `yaml:"role"`
	AutoStart    bool          `yaml:"auto_start"`
	ReapSchedule string        `yaml:"reap_schedule"`
	ReapGrace    time.Duration `yaml:"reap_grace"`
}

// KVSConfig is the signaling channel and the credential bundle used to reach it
type KVSConfig struct {
	Region          string        `yaml:"region"`
	ChannelName     string        `yaml:"channel_name"`
	ClientID        string        `yaml:"client_id"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	BroadcastOffer  bool          `yaml:"broadcast_offer"`
	BroadcastRetry  time.Duration `yaml:"broadcast_retry"`
	PingPeriod      time.Duration `yaml:"ping_period"`
}

// MediaConfig describes the local tracks and peer transport policy
type MediaConfig struct {
	VideoCodec string        `yaml:"video_codec"`
	AudioCodec string        `yaml:"audio_codec"`
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`
	ICETimeout time.Duration `yaml:"ice_timeout"`
	ForceTURN  bool          `yaml:"force_turn"`
	// optional looped sources for the local tracks
	VideoFile string `yaml:"video_file"`
	AudioFile string `yaml:"audio_file"`
}

var GlobalConfig *Config

// Config System common config
type Config struct {
	Mode   string           `yaml:"mode"`
	Log    logger.LogConfig `yaml:"log"`
	Server ServerConfig     `yaml:"server"`
	Agent  AgentConfig      `yaml:"agent"`
	KVS    KVSConfig        `yaml:"kvs"`
	Media  MediaConfig      `yaml:"media"`
}

func Load() (*Config, error) {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	mode := utils.GetStringOrDefault(constants.ENV_MODE, constants.DefaultMode)
	if err := utils.LoadEnv(mode); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. 环境变量
	cfg := &Config{
		Mode: mode,
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault(constants.ENV_LOG_LEVEL, "info"),
			Filename:   utils.GetStringOrDefault(constants.ENV_LOG_FILENAME, "./logs/agent.log"),
			MaxSize:    utils.GetIntOrDefault(constants.ENV_LOG_MAX_SIZE, 100),
			MaxAge:     utils.GetIntOrDefault(constants.ENV_LOG_MAX_AGE, 30),
			MaxBackups: utils.GetIntOrDefault(constants.ENV_LOG_MAX_BACKUPS, 5),
			Daily:      utils.GetBoolOrDefault(constants.ENV_LOG_DAILY, true),
		},
		Server: ServerConfig{
			Addr:         utils.GetStringOrDefault(constants.ENV_STATUS_ADDR, constants.DefaultStatusAddr),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  60 * time.Second,
		},
		Agent: AgentConfig{
			Role:         utils.GetStringOrDefault(constants.ENV_AGENT_ROLE, string(agent.RoleMaster)),
			AutoStart:    utils.GetBoolOrDefault(constants.ENV_AUTO_START, false),
			ReapSchedule: utils.GetStringOrDefault(constants.ENV_REAP_SCHEDULE, constants.DefaultReapSchedule),
			ReapGrace:    utils.GetDurationOrDefault(constants.ENV_REAP_GRACE, constants.DefaultReapGrace),
		},
		KVS: KVSConfig{
			Region:          utils.GetStringOrDefault(constants.ENV_AWS_REGION, constants.DefaultRegion),
			ChannelName:     utils.GetEnv(constants.ENV_KVS_CHANNEL_NAME),
			ClientID:        utils.GetEnv(constants.ENV_KVS_CLIENT_ID),
			AccessKeyID:     utils.GetEnv(constants.ENV_AWS_ACCESS_KEY_ID),
			SecretAccessKey: utils.GetEnv(constants.ENV_AWS_SECRET_ACCESS_KEY),
			SessionToken:    utils.GetEnv(constants.ENV_AWS_SESSION_TOKEN),
			BroadcastOffer:  utils.GetBoolOrDefault(constants.ENV_KVS_BROADCAST_OFFER, false),
			BroadcastRetry:  utils.GetDurationOrDefault(constants.ENV_KVS_BROADCAST_RETRY, agent.DefaultBroadcastRetry),
			PingPeriod:      utils.GetDurationOrDefault(constants.ENV_KVS_PING_PERIOD, constants.DefaultPingPeriod),
		},
		Media: MediaConfig{
			VideoCodec: utils.GetStringOrDefault(constants.ENV_VIDEO_CODEC, rtcconst.DefaultVideoCodec),
			AudioCodec: utils.GetStringOrDefault(constants.ENV_AUDIO_CODEC, rtcconst.DefaultAudioCodec),
			Width:      utils.GetIntOrDefault(constants.ENV_VIDEO_WIDTH, rtcconst.DefaultVideoWidth),
			Height:     utils.GetIntOrDefault(constants.ENV_VIDEO_HEIGHT, rtcconst.DefaultVideoHeight),
			ICETimeout: utils.GetDurationOrDefault(constants.ENV_ICE_TIMEOUT, rtcconst.DefaultICETimeout),
			ForceTURN:  utils.GetBoolOrDefault(constants.ENV_FORCE_TURN, false),
			VideoFile:  utils.GetEnv(constants.ENV_VIDEO_FILE),
			AudioFile:  utils.GetEnv(constants.ENV_AUDIO_FILE),
		},
	}

	// 3. 可选 YAML 覆盖
	if path := utils.GetEnv(constants.ENV_CONFIG_FILE); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	GlobalConfig = cfg
	return cfg, nil
}

// ApplyFile overlays the keys present in a YAML file onto cfg.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "read config file %s", path).WithCause(err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "parse config file %s", path).WithCause(err)
	}
	return nil
}

// Validate checks the settings needed before any session can start.
func (c *Config) Validate() error {
	if _, err := agent.ParseRole(c.Agent.Role); err != nil {
		return err
	}
	if !isVideoCodec(c.Media.VideoCodec) {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "unsupported video codec %q", c.Media.VideoCodec)
	}
	if !isAudioCodec(c.Media.AudioCodec) {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "unsupported audio codec %q", c.Media.AudioCodec)
	}
	if c.Media.Width <= 0 || c.Media.Height <= 0 {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidConfig, "invalid video size %dx%d", c.Media.Width, c.Media.Height)
	}
	if c.Agent.AutoStart {
		// auto start 需要完整的凭证
		if err := c.Credentials().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Role returns the parsed agent role; Validate has already rejected bad input.
func (c *Config) Role() agent.Role {
	role, _ := agent.ParseRole(c.Agent.Role)
	return role
}

// Credentials builds the bundle passed to Agent.Start.
func (c *Config) Credentials() agent.CredentialBundle {
	return agent.CredentialBundle{
		AccessKeyID:     c.KVS.AccessKeyID,
		SecretAccessKey: c.KVS.SecretAccessKey,
		SessionToken:    c.KVS.SessionToken,
		Region:          c.KVS.Region,
		ChannelName:     c.KVS.ChannelName,
		ClientID:        c.KVS.ClientID,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("mode=%s role=%s region=%s channel=%s", c.Mode, c.Agent.Role, c.KVS.Region, c.KVS.ChannelName)
}

func isVideoCodec(name string) bool {
	switch name {
	case rtcconst.CodecH264, rtcconst.CodecVP8, rtcconst.CodecVP9:
		return true
	}
	return false
}

func isAudioCodec(name string) bool {
	switch name {
	case rtcconst.CodecOPUS, rtcconst.CodecPCMU, rtcconst.CodecPCMA, rtcconst.CodecG722:
		return true
	}
	return false
}
