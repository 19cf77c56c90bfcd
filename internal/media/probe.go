// Package media wraps the external media-probe collaborator used to extract
// resolution and duration from retrieved video artifacts.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Info describes a probed video clip.
type Info struct {
	Width           int
	Height          int
	DurationSeconds float64
}

// Resolution renders the probed dimensions as WIDTHxHEIGHT.
func (i Info) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// Prober extracts stream information from raw video bytes.
type Prober interface {
	Probe(ctx context.Context, video []byte) (Info, error)
}

// FFProbe shells out to ffprobe. The bytes are staged in a temporary file
// because ffprobe needs a seekable input to find the moov atom.
type FFProbe struct {
	Path string
}

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFProbe) Probe(ctx context.Context, video []byte) (Info, error) {
	dir, err := os.MkdirTemp("", "probe")
	if err != nil {
		return Info{}, fmt.Errorf("create probe dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input_video.mp4")
	if err := os.WriteFile(input, video, 0o600); err != nil {
		return Info{}, fmt.Errorf("stage probe input: %w", err)
	}

	out, err := exec.CommandContext(ctx, f.Path,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-print_format", "json",
		input,
	).Output()
	if err != nil {
		return Info{}, fmt.Errorf("run ffprobe: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return Info{}, fmt.Errorf("ffprobe reported no streams")
	}

	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return Info{}, fmt.Errorf("parse probed duration %q: %w", probed.Format.Duration, err)
	}

	return Info{
		Width:           probed.Streams[0].Width,
		Height:          probed.Streams[0].Height,
		DurationSeconds: duration,
	}, nil
}
