package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/LingByte/kvs-agent/pkg/config"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"go.uber.org/zap"
)

// LogConfigInfo Print global configuration information
func LogConfigInfo(cfg *config.Config) {
	logger.Info("system config load finished", zap.String("mode", cfg.Mode))

	// 凭证只打印掩码
	bundle := cfg.Credentials().Redacted()
	logger.Info("kvs config",
		zap.String("role", cfg.Agent.Role),
		zap.String("region", bundle.Region),
		zap.String("channel", bundle.ChannelName),
		zap.String("client_id", bundle.ClientID),
		zap.String("access_key_id", bundle.AccessKeyID),
		zap.Bool("broadcast_offer", cfg.KVS.BroadcastOffer),
		zap.Duration("broadcast_retry", cfg.KVS.BroadcastRetry),
		zap.Bool("auto_start", cfg.Agent.AutoStart),
	)

	logger.Info("media config",
		zap.String("video_codec", cfg.Media.VideoCodec),
		zap.String("audio_codec", cfg.Media.AudioCodec),
		zap.Int("width", cfg.Media.Width),
		zap.Int("height", cfg.Media.Height),
		zap.Duration("ice_timeout", cfg.Media.ICETimeout),
		zap.Bool("force_turn", cfg.Media.ForceTURN),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)
}

// EnsureBannerFile writes text to filename when the file does not exist yet.
func EnsureBannerFile(filename string, text string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(filename, []byte(text+"\n"), 0o644)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;165m",
		"\x1b[38;5;189m",
		"\x1b[38;5;207m",
		"\x1b[38;5;219m",
		"\x1b[38;5;225m",
		"\x1b[38;5;231m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Println(color + line + "\x1b[0m")
	}
	return nil
}
