package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LincolnGameplays/emprataai/internal/imaging"
	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/storage"
)

const maxSourceBytes = 32 << 20

// Artifact is an encoded export handed to a Sink. Body is only valid during
// Deliver.
type Artifact struct {
	Filename    string
	Mime        string
	Size        int64
	Watermarked bool
	Body        io.Reader
}

type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
}

type SinkFunc func(ctx context.Context, a Artifact) error

func (f SinkFunc) Deliver(ctx context.Context, a Artifact) error {
	return f(ctx, a)
}

// WriterSink streams the artifact into W.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Deliver(_ context.Context, a Artifact) error {
	_, err := io.Copy(s.W, a.Body)
	return err
}

// StorageSink publishes the artifact to object storage and keeps its URL.
type StorageSink struct {
	Uploader Uploader
	URL      string
}

func (s *StorageSink) Deliver(ctx context.Context, a Artifact) error {
	data, err := io.ReadAll(a.Body)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	url, err := s.Uploader.Upload(ctx, storage.KindExport, data, a.Mime)
	if err != nil {
		return err
	}
	s.URL = url
	return nil
}

type ExportRequest struct {
	Image    *models.Image
	Plan     models.Plan
	Format   string
	Filename string
}

type ExportService struct {
	log     *slog.Logger
	client  *http.Client
	metrics *metrics.Collectors
	size    int
	quality int
	tempDir string
}

func NewExportService(log *slog.Logger, m *metrics.Collectors, canonicalSize, quality int, timeout time.Duration) *ExportService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if canonicalSize <= 0 {
		canonicalSize = imaging.CanonicalSize
	}
	if quality <= 0 {
		quality = imaging.DefaultQuality
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ExportService{
		log:     log,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		size:    canonicalSize,
		quality: quality,
	}
}

// Export composites the image onto the canonical square, watermarks it when
// the plan asks for it, encodes it and hands it to sink. Nothing reaches the
// sink unless encoding finished. The ledger is never touched.
func (s *ExportService) Export(ctx context.Context, req ExportRequest, sink Sink) (err error) {
	stage := imaging.StageIdle
	fail := func(cause error) error {
		s.metrics.Export(string(imaging.StageFailed))
		s.log.Error("export failed", "stage", stage, "plan", req.Plan, "err", cause)
		return &imaging.ExportError{Stage: stage, Err: cause}
	}

	if !supportedFormat(req.Format) {
		return fail(fmt.Errorf("%w: unsupported format %q", imaging.ErrEncodingFailed, req.Format))
	}
	if sink == nil {
		return fail(errors.New("no sink"))
	}

	if req.Image.Empty() {
		return fail(fmt.Errorf("%w: nothing to export", imaging.ErrInvalidImage))
	}

	stage = imaging.StageLoading
	src, err := s.load(ctx, req.Image)
	if err != nil {
		return fail(err)
	}

	canvas, watermarked, err := imaging.Composite(src, s.size, req.Plan)
	if err != nil {
		return fail(err)
	}
	stage = imaging.StageWatermarkSkipped
	if watermarked {
		stage = imaging.StageWatermarkApplied
	}

	enc, err := imaging.EncodeToTemp(s.tempDir, canvas, s.quality)
	if err != nil {
		return fail(err)
	}
	defer enc.Release()
	stage = imaging.StageEncoded

	f, err := enc.Open()
	if err != nil {
		return fail(fmt.Errorf("%w: reopen: %v", imaging.ErrEncodingFailed, err))
	}
	defer f.Close()

	err = sink.Deliver(ctx, Artifact{
		Filename:    exportFilename(req.Filename),
		Mime:        "image/jpeg",
		Size:        enc.Size,
		Watermarked: watermarked,
		Body:        f,
	})
	if err != nil {
		return fail(fmt.Errorf("deliver: %w", err))
	}

	s.metrics.Export(string(imaging.StageDelivered))
	s.log.Info("export delivered", "plan", req.Plan, "watermarked", watermarked, "bytes", enc.Size)
	return nil
}

// Publish exports to object storage and returns the public URL.
func (s *ExportService) Publish(ctx context.Context, req ExportRequest, uploader Uploader) (string, error) {
	sink := &StorageSink{Uploader: uploader}
	if err := s.Export(ctx, req, sink); err != nil {
		return "", err
	}
	return sink.URL, nil
}

func (s *ExportService) load(ctx context.Context, img *models.Image) (image.Image, error) {
	data := img.Bytes
	if len(data) == 0 {
		var err error
		data, err = s.fetch(ctx, img.URL)
		if err != nil {
			return nil, err
		}
	}
	src, _, err := imaging.Decode(data)
	return src, err
}

func (s *ExportService) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imaging.ErrInvalidImage, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", imaging.ErrInvalidImage, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch status=%d", imaging.ErrInvalidImage, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", imaging.ErrInvalidImage, err)
	}
	return data, nil
}

func supportedFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "jpeg", "jpg", "image/jpeg":
		return true
	default:
		return false
	}
}

func exportFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("emprata-%d", time.Now().Unix())
	}
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	if !strings.HasSuffix(strings.ToLower(name), ".jpg") && !strings.HasSuffix(strings.ToLower(name), ".jpeg") {
		name += ".jpg"
	}
	return name
}
