package rtcmedia

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/LingByte/kvs-agent/pkg/webrtc/agent"
	"github.com/LingByte/kvs-agent/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLocalStream(t *testing.T) {
	stream, err := NewLocalStream(config.DefaultWebRTCOption(), agent.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)

	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tracks[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tracks[1].Kind())
	assert.Equal(t, "kvs-agent", tracks[0].StreamID())
	assert.Equal(t, "kvs-agent", stream.ID())
}

func TestNewLocalStream_Errors(t *testing.T) {
	_, err := NewLocalStream(config.DefaultWebRTCOption(), agent.MediaConstraints{})
	assert.Error(t, err)

	opt := config.DefaultWebRTCOption()
	opt.VideoCodec = "opus"
	_, err = NewLocalStream(opt, agent.MediaConstraints{Video: true})
	assert.Error(t, err, "an audio codec cannot back the video track")
}

func TestLocalStream_WriteAndStop(t *testing.T) {
	stream, err := NewLocalStream(config.DefaultWebRTCOption(), agent.MediaConstraints{Audio: true})
	require.NoError(t, err)

	// unbound tracks accept samples and drop them
	assert.NoError(t, stream.WriteAudio([]byte{0x01, 0x02}, 20*time.Millisecond))
	assert.Error(t, stream.WriteVideo([]byte{0x01}, 33*time.Millisecond))

	require.NoError(t, stream.Stop())
	require.NoError(t, stream.Stop())
	assert.True(t, stream.Stopped())
	assert.ErrorIs(t, stream.WriteAudio([]byte{0x01}, 20*time.Millisecond), ErrStreamStopped)
}

func TestCapturer_Acquire(t *testing.T) {
	c := NewCapturer(config.DefaultWebRTCOption(), zap.NewNop())

	s, err := c.Acquire(context.Background(), agent.MediaConstraints{Audio: true, Video: true, Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Len(t, s.Tracks(), 2)
	assert.NoError(t, s.Stop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Acquire(ctx, agent.MediaConstraints{Video: true})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Acquire(context.Background(), agent.MediaConstraints{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaAcquisition))
}

func TestCapturer_MissingSourceFile(t *testing.T) {
	c := NewCapturer(nil, zap.NewNop(), WithFiles(filepath.Join(t.TempDir(), "missing.h264"), ""))

	_, err := c.Acquire(context.Background(), agent.MediaConstraints{Video: true})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMediaAcquisition))
}

func writeAnnexB(t *testing.T) string {
	t.Helper()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x1f,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00,
	}
	path := filepath.Join(t.TempDir(), "clip.h264")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPlayH264_ReachesEOF(t *testing.T) {
	stream, err := NewLocalStream(config.DefaultWebRTCOption(), agent.MediaConstraints{Video: true})
	require.NoError(t, err)
	defer stream.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = playH264(ctx, writeAnnexB(t), stream)
	assert.True(t, errors.Is(err, io.EOF), "got %v", err)
}

func TestCapturer_LoopStopsWithStream(t *testing.T) {
	c := NewCapturer(nil, zap.NewNop(), WithFiles(writeAnnexB(t), ""))

	s, err := c.Acquire(context.Background(), agent.MediaConstraints{Video: true})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not end the source loop")
	}
}
