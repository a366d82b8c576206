package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// VoiceNoteMimetype is what the network expects for push-to-talk audio.
const VoiceNoteMimetype = "audio/ogg; codecs=opus"

// ErrTranscodeUnavailable marks transcoding failures the caller may degrade
// to a warning: the original bytes are still sendable, just not as a proper
// voice note.
var ErrTranscodeUnavailable = errors.New("audio transcode unavailable")

// AudioConverter turns arbitrary audio input into ogg/opus voice notes.
type AudioConverter interface {
	ToVoiceNote(ctx context.Context, data []byte) ([]byte, error)
}

// FFmpegConverter shells out to ffmpeg. A missing binary or a decode failure
// is reported as ErrTranscodeUnavailable.
type FFmpegConverter struct {
	// Binary overrides the ffmpeg executable path. Empty means "ffmpeg".
	Binary string
}

func (f *FFmpegConverter) ToVoiceNote(ctx context.Context, data []byte) ([]byte, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscodeUnavailable, err)
	}

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libopus",
		"-b:a", "32k",
		"-ar", "48000",
		"-ac", "1",
		"-f", "ogg",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrTranscodeUnavailable, err, stderr.String())
	}
	return out.Bytes(), nil
}
