// Package ffprobe inspects media over HTTP using the ffprobe binary.
// The pipeline probes recordings through short-lived presigned URLs to
// decide whether conversion needs to split the audio into segments.
package ffprobe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"lighthouse/internal/services"
)

// Info summarizes the probe output the pipeline cares about.
type Info struct {
	DurationSeconds float64
	FormatName      string
	AudioStreams    int
	VideoStreams    int
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Prober runs ffprobe. The runner indirection keeps tests off the real
// binary.
type Prober struct {
	binary string
	runner func(ctx context.Context, binary string, args ...string) ([]byte, error)
}

// New builds a prober for the given ffprobe binary name.
func New(binary string) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, runner: runCommand}
}

// Probe inspects the media at url and returns its duration and stream
// layout. The url may be a presigned HTTP link or a local path.
func (p *Prober) Probe(ctx context.Context, url string) (Info, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Info{}, services.Wrap(services.ErrValidation, "media", "probe", "empty url", nil)
	}

	output, err := p.runner(ctx, p.binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", url)
	if err != nil {
		return Info{}, services.Wrap(services.ErrTransient, "media", "probe", "ffprobe execution failed", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "media", "probe", "malformed ffprobe output", err)
	}

	info := Info{FormatName: parsed.Format.FormatName}
	if duration, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil && duration > 0 {
		info.DurationSeconds = duration
	}
	for _, stream := range parsed.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "audio":
			info.AudioStreams++
		case "video":
			info.VideoStreams++
		}
	}
	return info, nil
}

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}
