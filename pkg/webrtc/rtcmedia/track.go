package rtcmedia

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/logger"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// ErrStreamStopped is returned by writes after Stop.
var ErrStreamStopped = fmt.Errorf("local stream stopped")

// LocalStream 本地音视频流. Samples written to it fan out to every peer the
// tracks were added to.
type LocalStream struct {
	id          string
	constraints agent.MediaConstraints
	video       *webrtc.TrackLocalStaticSample
	audio       *webrtc.TrackLocalStaticSample

	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLocalStream creates the sample tracks the constraints ask for.
func NewLocalStream(opt *config.WebRTCOption, constraints agent.MediaConstraints) (*LocalStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("no audio or video requested")
	}
	s := &LocalStream{id: opt.GetStreamID(), constraints: constraints}

	if constraints.Video {
		track, err := newSampleTrack(opt.VideoCodec, webrtc.RTPCodecTypeVideo, "video", s.id)
		if err != nil {
			return nil, err
		}
		s.video = track
	}
	if constraints.Audio {
		track, err := newSampleTrack(opt.AudioCodec, webrtc.RTPCodecTypeAudio, "audio", s.id)
		if err != nil {
			return nil, err
		}
		s.audio = track
	}
	return s, nil
}

func newSampleTrack(codec string, want webrtc.RTPCodecType, trackID, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	capability, kind, err := CodecCapability(codec)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("codec %q is not a %s codec", codec, want)
	}
	return webrtc.NewTrackLocalStaticSample(capability, trackID, streamID)
}

func (s *LocalStream) ID() string { return s.id }

// Tracks returns video before audio.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *LocalStream) Constraints() agent.MediaConstraints { return s.constraints }

// WriteVideo 发送视频样本
func (s *LocalStream) WriteVideo(data []byte, duration time.Duration) error {
	return s.write(s.video, data, duration)
}

// WriteAudio 发送音频样本
func (s *LocalStream) WriteAudio(data []byte, duration time.Duration) error {
	return s.write(s.audio, data, duration)
}

func (s *LocalStream) write(track *webrtc.TrackLocalStaticSample, data []byte, duration time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStreamStopped
	}
	if track == nil {
		return fmt.Errorf("stream %s has no such track", s.id)
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// run starts a producer goroutine bound to the stream's lifetime.
func (s *LocalStream) run(ctx context.Context, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.cancel == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	runCtx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(runCtx)
	}()
}

// Stop releases the stream. Safe to call more than once.
func (s *LocalStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *LocalStream) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Capturer acquires local streams. Media comes from the configured files when
// set; otherwise callers feed samples through WriteVideo/WriteAudio.
type Capturer struct {
	opt       config.WebRTCOption
	videoFile string
	audioFile string
	log       *zap.Logger
}

type CapturerOption func(*Capturer)

// WithFiles loops an H.264 Annex-B file and an Ogg/Opus file into the tracks.
func WithFiles(videoFile, audioFile string) CapturerOption {
	return func(c *Capturer) {
		c.videoFile = videoFile
		c.audioFile = audioFile
	}
}

func NewCapturer(opt *config.WebRTCOption, log *zap.Logger, opts ...CapturerOption) *Capturer {
	if opt == nil {
		opt = config.DefaultWebRTCOption()
	}
	if log == nil {
		log = logger.Named("capture")
	}
	c := &Capturer{opt: *opt, log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Acquire implements agent.MediaCapturer.
func (c *Capturer) Acquire(ctx context.Context, constraints agent.MediaConstraints) (agent.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opt := c.opt
	if constraints.Width > 0 && constraints.Height > 0 {
		opt.Width, opt.Height = constraints.Width, constraints.Height
	}

	stream, err := NewLocalStream(&opt, constraints)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeMediaAcquisition, "create local tracks").WithCause(err)
	}

	if c.videoFile != "" && stream.video != nil {
		if err := checkReadable(c.videoFile); err != nil {
			_ = stream.Stop()
			return nil, apperrors.NewAppError(apperrors.ErrCodeMediaAcquisition, "open video source").WithCause(err)
		}
		stream.run(context.Background(), func(ctx context.Context) {
			loopSource(ctx, c.log, c.videoFile, func(ctx context.Context) error {
				return playH264(ctx, c.videoFile, stream)
			})
		})
	}
	if c.audioFile != "" && stream.audio != nil {
		if err := checkReadable(c.audioFile); err != nil {
			_ = stream.Stop()
			return nil, apperrors.NewAppError(apperrors.ErrCodeMediaAcquisition, "open audio source").WithCause(err)
		}
		stream.run(context.Background(), func(ctx context.Context) {
			loopSource(ctx, c.log, c.audioFile, func(ctx context.Context) error {
				return playOgg(ctx, c.audioFile, stream)
			})
		})
	}

	c.log.Info("local media acquired",
		zap.String("stream_id", stream.ID()),
		zap.Bool("video", constraints.Video),
		zap.Bool("audio", constraints.Audio),
		zap.Int("width", opt.Width),
		zap.Int("height", opt.Height))
	return stream, nil
}
