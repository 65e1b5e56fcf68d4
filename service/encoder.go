package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Encoder is a video encoder with a private file space: inputs are written
// in, a command runs over them, the output is read back.
type Encoder interface {
	Load(ctx context.Context) error
	WriteFile(name string, data []byte) error
	Exec(ctx context.Context, args ...string) error
	ReadFile(name string) ([]byte, error)
	Close() error
}

// EncoderFactory creates a fresh encoder for every export.
type EncoderFactory func() Encoder

// FFmpegEncoder runs the ffmpeg binary inside a temporary working directory.
type FFmpegEncoder struct {
	Binary  string
	BaseDir string
	Log     *logrus.Entry

	path string
	dir  string
}

func NewFFmpegFactory(binary, baseDir string, log *logrus.Entry) EncoderFactory {
	return func() Encoder {
		return &FFmpegEncoder{Binary: binary, BaseDir: baseDir, Log: log}
	}
}

func (f *FFmpegEncoder) Load(ctx context.Context) error {
	path, err := exec.LookPath(f.Binary)
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	if f.BaseDir != "" {
		if err := os.MkdirAll(f.BaseDir, 0o755); err != nil {
			return fmt.Errorf("create encoder base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(f.BaseDir, "storyboard-export-")
	if err != nil {
		return fmt.Errorf("create encoder workspace: %w", err)
	}
	f.path = path
	f.dir = dir
	return nil
}

func (f *FFmpegEncoder) WriteFile(name string, data []byte) error {
	if f.dir == "" {
		return fmt.Errorf("encoder not loaded")
	}
	return os.WriteFile(filepath.Join(f.dir, filepath.Base(name)), data, 0o644)
}

func (f *FFmpegEncoder) Exec(ctx context.Context, args ...string) error {
	if f.dir == "" {
		return fmt.Errorf("encoder not loaded")
	}
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.path, full...)
	cmd.Dir = f.dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if f.Log != nil {
		f.Log.WithField("args", strings.Join(full, " ")).Debug("running ffmpeg")
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 2000))
	}
	return nil
}

func (f *FFmpegEncoder) ReadFile(name string) ([]byte, error) {
	if f.dir == "" {
		return nil, fmt.Errorf("encoder not loaded")
	}
	return os.ReadFile(filepath.Join(f.dir, filepath.Base(name)))
}

// Close removes the workspace.
func (f *FFmpegEncoder) Close() error {
	if f.dir == "" {
		return nil
	}
	err := os.RemoveAll(f.dir)
	f.dir = ""
	return err
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
