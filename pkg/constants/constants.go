package constants

import "time"

const (
	DefaultMode       = "development"
	DefaultStatusAddr = ":7072"
	DefaultRegion     = "us-west-2"
	DefaultClientID   = "MASTER"
	ViewerIDPrefix    = "viewer"
)

const (
	DefaultReapSchedule = "@every 1m"
	DefaultReapGrace    = 2 * time.Minute
	DefaultPingPeriod   = 30 * time.Second
)

// Environment keys

// Default Value: development
const ENV_MODE = "MODE"

// Optional YAML overlay applied after the environment
const ENV_CONFIG_FILE = "CONFIG_FILE"

// Agent role: MASTER or VIEWER
const ENV_AGENT_ROLE = "AGENT_ROLE"
const ENV_AUTO_START = "AUTO_START"
const ENV_STATUS_ADDR = "STATUS_ADDR"

// AWS credential bundle
const ENV_AWS_REGION = "AWS_REGION"
const ENV_AWS_ACCESS_KEY_ID = "AWS_ACCESS_KEY_ID"
const ENV_AWS_SECRET_ACCESS_KEY = "AWS_SECRET_ACCESS_KEY"
const ENV_AWS_SESSION_TOKEN = "AWS_SESSION_TOKEN"

// KVS signaling channel
const ENV_KVS_CHANNEL_NAME = "KVS_CHANNEL_NAME"
const ENV_KVS_CLIENT_ID = "KVS_CLIENT_ID"
const ENV_KVS_BROADCAST_OFFER = "KVS_BROADCAST_OFFER"
const ENV_KVS_BROADCAST_RETRY = "KVS_BROADCAST_RETRY"
const ENV_KVS_PING_PERIOD = "KVS_PING_PERIOD"

// Media / transport
const ENV_ICE_TIMEOUT = "ICE_TIMEOUT"
const ENV_VIDEO_CODEC = "VIDEO_CODEC"
const ENV_AUDIO_CODEC = "AUDIO_CODEC"
const ENV_FORCE_TURN = "FORCE_TURN"
const ENV_VIDEO_WIDTH = "VIDEO_WIDTH"
const ENV_VIDEO_HEIGHT = "VIDEO_HEIGHT"
const ENV_VIDEO_FILE = "VIDEO_FILE"
const ENV_AUDIO_FILE = "AUDIO_FILE"

// Failed peer reaping
const ENV_REAP_SCHEDULE = "REAP_SCHEDULE"
const ENV_REAP_GRACE = "REAP_GRACE"

// Logging
const ENV_LOG_LEVEL = "LOG_LEVEL"
const ENV_LOG_FILENAME = "LOG_FILENAME"
const ENV_LOG_MAX_SIZE = "LOG_MAX_SIZE"
const ENV_LOG_MAX_AGE = "LOG_MAX_AGE"
const ENV_LOG_MAX_BACKUPS = "LOG_MAX_BACKUPS"
const ENV_LOG_DAILY = "LOG_DAILY"
