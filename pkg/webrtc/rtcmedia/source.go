package rtcmedia

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const (
	h264FrameDuration = time.Millisecond * 33
	oggPageDuration   = time.Millisecond * 20
	opusClockRate     = 48000
)

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// loopSource replays a file until ctx ends, backing off after failures.
func loopSource(ctx context.Context, log *zap.Logger, path string, play func(ctx context.Context) error) {
	for {
		err := play(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := time.Duration(0)
		if err != nil && !errors.Is(err, io.EOF) {
			log.Warn("media source failed", zap.String("file", path), zap.Error(err))
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// playH264 writes one NAL per tick. Pion packetizes the Annex-B units.
func playH264(ctx context.Context, path string, stream *LocalStream) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := h264reader.NewReader(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(h264FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		nal, err := reader.NextNAL()
		if err != nil {
			return err
		}
		if err := stream.WriteVideo(nal.Data, h264FrameDuration); err != nil {
			return err
		}
	}
}

// playOgg writes one Ogg page per tick, timing samples by granule position.
func playOgg(ctx context.Context, path string, stream *LocalStream) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusClockRate
		if err := stream.WriteAudio(page, duration); err != nil {
			return err
		}
	}
}
