package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LingByte/kvs-agent/cmd/bootstrap"
	"github.com/LingByte/kvs-agent/pkg/api"
	"github.com/LingByte/kvs-agent/pkg/config"
	"github.com/LingByte/kvs-agent/pkg/kvs"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/metrics"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia"
	rtcconfig "github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serverName = "kvs-agent"

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	role := flag.String("role", "", "override AGENT_ROLE (MASTER or VIEWER)")
	addr := flag.String("addr", "", "status API listen address")
	start := flag.Bool("start", false, "start a session immediately")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}
	if *role != "" {
		os.Setenv("AGENT_ROLE", *role)
	}

	// 2. Load Global Configuration
	cfg, err := config.Load()
	if err != nil {
		panic("config load failed: " + err.Error())
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if !strings.Contains(cfg.Server.Addr, ":") {
		cfg.Server.Addr = ":" + cfg.Server.Addr
	}

	// 3. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 4. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt", serverName); err != nil {
		log.Fatalf("unload banner: %v", err)
	}
	bootstrap.LogConfigInfo(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 5. Metrics and status stream
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	status := agent.NewStatusStream(zapcore.InfoLevel, 0)

	// 6. Media and signaling
	opt := &rtcconfig.WebRTCOption{
		ICEServers: []webrtc.ICEServer{rtcconfig.KVSStunServer(cfg.KVS.Region)},
		StreamID:   serverName,
		ICETimeout: cfg.Media.ICETimeout,
		VideoCodec: cfg.Media.VideoCodec,
		AudioCodec: cfg.Media.AudioCodec,
		Width:      cfg.Media.Width,
		Height:     cfg.Media.Height,
		ForceTURN:  cfg.Media.ForceTURN,
	}
	factory, err := rtcmedia.NewFactory(opt, logger.Named("pion"))
	if err != nil {
		logger.Fatal("peer connection factory", zap.Error(err))
	}
	capturer := rtcmedia.NewCapturer(opt, logger.Named("media"), rtcmedia.WithFiles(cfg.Media.VideoFile, cfg.Media.AudioFile))

	a := agent.New(agent.Options{
		Factory:        factory,
		Capturer:       capturer,
		Connector:      kvs.NewConnector(cfg.KVS.PingPeriod, logger.Named("kvs")),
		Logger:         logger.Named("agent"),
		Metrics:        m,
		Status:         status,
		BroadcastOffer: cfg.KVS.BroadcastOffer,
		BroadcastRetry: cfg.KVS.BroadcastRetry,
		Constraints: agent.MediaConstraints{
			Video:  true,
			Audio:  true,
			Width:  cfg.Media.Width,
			Height: cfg.Media.Height,
		},
		OnTrack: func(remoteID string, track *webrtc.TrackRemote) {
			go drainTrack(remoteID, track, m)
		},
	})

	// 7. Failed peer reaper
	reaper, err := bootstrap.StartReaper(cfg.Agent.ReapSchedule, cfg.Agent.ReapGrace, a, logger.Named("reaper"))
	if err != nil {
		logger.Fatal("invalid reap schedule", zap.String("schedule", cfg.Agent.ReapSchedule), zap.Error(err))
	}
	defer reaper.Stop()

	// 8. HTTP status API
	r := api.NewRouter(api.Options{
		Agent:    a,
		Status:   status,
		Gatherer: reg,
		Defaults: api.StartRequest{
			Role:            cfg.Agent.Role,
			Region:          cfg.KVS.Region,
			ChannelName:     cfg.KVS.ChannelName,
			ClientID:        cfg.KVS.ClientID,
			AccessKeyID:     cfg.KVS.AccessKeyID,
			SecretAccessKey: cfg.KVS.SecretAccessKey,
			SessionToken:    cfg.KVS.SessionToken,
		},
		Logger: logger.Named("api"),
		Debug:  cfg.Mode == "development",
	})
	httpServer := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server run failed", zap.Error(err))
			cancel()
		}
	}()

	// 9. Optional session at startup
	if cfg.Agent.AutoStart || *start {
		startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := a.Start(startCtx, cfg.Role(), cfg.Credentials())
		startCancel()
		if err != nil {
			logger.Error("auto start failed", zap.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	a.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited gracefully")
}

// drainTrack reads a remote track until it ends so RTCP keeps flowing, and
// counts the bytes received.
func drainTrack(remoteID string, track *webrtc.TrackRemote, m *metrics.Metrics) {
	kind := track.Kind().String()
	log := logger.Named("media").With(zap.String("remote_id", remoteID), zap.String("kind", kind))
	log.Info("remote track started", zap.String("codec", track.Codec().MimeType))

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			log.Info("remote track ended", zap.Error(err))
			return
		}
		m.RTPBytes(kind, n)
	}
}
