package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/models"
)

const (
	// ExportFileName is the name every exported video is delivered under.
	ExportFileName = "ai_storyboard.mp4"

	exportOutputName  = "output.mp4"
	msgLoadingEncoder = "Loading FFMpeg..."
	msgWritingFiles   = "Writing files..."
	msgEncoding       = "Encoding MP4..."
)

// encoderArgs reads the inputs at 2/3 fps (1.5s per slide) and re-times the
// H.264/yuv420p output to 30 fps. The input pattern must match StagedName.
var encoderArgs = []string{
	"-framerate", "2/3",
	"-i", "input-%02d.jpg",
	"-c:v", "libx264",
	"-pix_fmt", "yuv420p",
	"-r", "30",
	exportOutputName,
}

// EncoderArgs returns a copy of the fixed argument set.
func EncoderArgs() []string {
	return append([]string(nil), encoderArgs...)
}

// StagedName is the encoder input name of the i-th image. Zero padding keeps
// the encoder's filename order equal to scene order.
func StagedName(i int) string {
	return fmt.Sprintf("input-%02d.jpg", i)
}

// ExportFile is a finished video handed to a Downloader.
type ExportFile struct {
	Name       string
	Data       []byte
	ArchiveURL string
}

// Downloader delivers the finished video to the user.
type Downloader interface {
	Deliver(ctx context.Context, f ExportFile) error
}

// Archiver keeps an extra copy of exported videos and returns a URL to it.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) (string, error)
}

type Exporter struct {
	NewEncoder EncoderFactory
	Archive    Archiver
	Log        *logrus.Entry
}

func NewExporter(factory EncoderFactory, archive Archiver, log *logrus.Entry) *Exporter {
	return &Exporter{NewEncoder: factory, Archive: archive, Log: log}
}

// Export encodes the session's images into an MP4 and hands it to sink.
// ErrNoImages and ErrExportActive leave the session untouched. Any other
// failure is written to the session error slot; the download progress is
// always cleared on return.
func (e *Exporter) Export(ctx context.Context, s *models.Session, sink Downloader) (file *ExportFile, err error) {
	images := s.Images()
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if !s.BeginDownload(msgLoadingEncoder) {
		return nil, ErrExportActive
	}
	log := e.logger().WithFields(logrus.Fields{"session": s.ID, "images": len(images)})
	start := time.Now()

	defer s.EndDownload()
	defer func() {
		if err != nil {
			s.SetError(Describe(err))
			log.WithError(err).Warn("export failed")
		}
	}()

	enc := e.NewEncoder()
	defer func() {
		if cerr := enc.Close(); cerr != nil {
			log.WithError(cerr).Warn("release encoder")
		}
	}()

	if err := enc.Load(ctx); err != nil {
		return nil, &EncoderError{Stage: EncoderInit, Err: err}
	}

	s.SetDownloadMessage(msgWritingFiles)
	for i, img := range images {
		data, err := DecodeImage(img)
		if err != nil {
			return nil, fmt.Errorf("decode image for scene %d: %w", i+1, err)
		}
		if err := enc.WriteFile(StagedName(i), data); err != nil {
			return nil, &EncoderError{Stage: EncoderWrite, Err: err}
		}
	}

	s.SetDownloadMessage(msgEncoding)
	if err := enc.Exec(ctx, EncoderArgs()...); err != nil {
		return nil, &EncoderError{Stage: EncoderExec, Err: err}
	}
	data, err := enc.ReadFile(exportOutputName)
	if err != nil {
		return nil, &EncoderError{Stage: EncoderRead, Err: err}
	}

	out := ExportFile{Name: ExportFileName, Data: data}
	if e.Archive != nil {
		key := fmt.Sprintf("exports/%s/%d-%s", s.ID, time.Now().Unix(), ExportFileName)
		url, aerr := e.Archive.Archive(ctx, key, data)
		if aerr != nil {
			log.WithError(aerr).Warn("archive export")
		} else {
			out.ArchiveURL = url
		}
	}

	if err := sink.Deliver(ctx, out); err != nil {
		return nil, fmt.Errorf("deliver %s: %w", out.Name, err)
	}
	log.WithFields(logrus.Fields{
		"bytes":   len(data),
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("export finished")
	return &out, nil
}

func (e *Exporter) logger() *logrus.Entry {
	return orStandard(e.Log)
}

// DecodeImage accepts plain base64 or a data URL.
func DecodeImage(img string) ([]byte, error) {
	if strings.HasPrefix(img, "data:") {
		i := strings.Index(img, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		img = img[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(img))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}

// FileDownloader writes the video to Path, or to the file's own name when Path is empty.
type FileDownloader struct {
	Path string
}

func (d FileDownloader) Deliver(_ context.Context, f ExportFile) error {
	path := d.Path
	if path == "" {
		path = f.Name
	}
	return os.WriteFile(path, f.Data, 0o644)
}
