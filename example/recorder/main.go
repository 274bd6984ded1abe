// Command recorder joins a KVS signaling channel as a viewer and writes the
// master's tracks to disk (H264 Annex-B and Ogg/Opus).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/LingByte/kvs-agent/pkg/config"
	"github.com/LingByte/kvs-agent/pkg/kvs"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia"
	rtcconfig "github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/h264writer"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

func main() {
	out := flag.String("out", "./recordings", "output directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		logger.Fatal("create output dir", zap.Error(err))
	}

	opt := rtcconfig.DefaultWebRTCOption()
	opt.ICEServers = []webrtc.ICEServer{rtcconfig.KVSStunServer(cfg.KVS.Region)}
	opt.ForceTURN = cfg.Media.ForceTURN
	factory, err := rtcmedia.NewFactory(opt, logger.Named("pion"))
	if err != nil {
		logger.Fatal("peer connection factory", zap.Error(err))
	}

	var wg sync.WaitGroup
	a := agent.New(agent.Options{
		Factory:   factory,
		Connector: kvs.NewConnector(cfg.KVS.PingPeriod, logger.Named("kvs")),
		Logger:    logger.Named("recorder"),
		OnTrack: func(remoteID string, track *webrtc.TrackRemote) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				record(*out, track)
			}()
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := a.Start(ctx, agent.RoleViewer, cfg.Credentials()); err != nil {
		logger.Fatal("start viewer", zap.Error(err))
	}
	<-ctx.Done()
	a.Stop()
	wg.Wait()
}

type rtpWriter interface {
	Close() error
}

func record(dir string, track *webrtc.TrackRemote) {
	mime := strings.ToLower(track.Codec().MimeType)
	log := logger.Named("recorder").With(zap.String("codec", mime))

	var (
		w     rtpWriter
		write func() error
		err   error
	)
	switch mime {
	case strings.ToLower(webrtc.MimeTypeH264):
		var h *h264writer.H264Writer
		h, err = h264writer.New(filepath.Join(dir, "video.h264"))
		w = h
		write = func() error {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return err
			}
			return h.WriteRTP(pkt)
		}
	case strings.ToLower(webrtc.MimeTypeOpus):
		var o *oggwriter.OggWriter
		o, err = oggwriter.New(filepath.Join(dir, "audio.ogg"), 48000, 2)
		w = o
		write = func() error {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return err
			}
			return o.WriteRTP(pkt)
		}
	default:
		log.Warn("no writer for codec; track ignored")
		return
	}
	if err != nil {
		log.Error("open output", zap.Error(err))
		return
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Warn("close output", zap.Error(err))
		}
	}()

	log.Info("recording")
	for {
		if err := write(); err != nil {
			log.Info("recording finished", zap.Error(err))
			return
		}
	}
}
