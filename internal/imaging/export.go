package imaging

import (
	"fmt"
	"image"
	"os"
)

// Stage is a step of one export. Delivered and Failed are terminal.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageLoading          Stage = "loading"
	StageComposited       Stage = "composited"
	StageWatermarkApplied Stage = "watermark_applied"
	StageWatermarkSkipped Stage = "watermark_skipped"
	StageEncoded          Stage = "encoded"
	StageDelivered        Stage = "delivered"
	StageFailed           Stage = "failed"
)

// ExportError records the stage an export was in when it failed. Idle means
// the request itself was rejected; Loading means the image could not be
// fetched or decoded.
type ExportError struct {
	Stage Stage
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed at %s: %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Encoded is a finished JPEG on disk. Release must be called on every path;
// it is safe to call more than once.
type Encoded struct {
	Path string
	Size int64
}

func (e *Encoded) Open() (*os.File, error) {
	return os.Open(e.Path)
}

func (e *Encoded) Release() {
	if e == nil || e.Path == "" {
		return
	}
	_ = os.Remove(e.Path)
	e.Path = ""
}

// EncodeToTemp writes img as JPEG into a private temp file. A failed encode
// leaves nothing behind.
func EncodeToTemp(dir string, img image.Image, quality int) (enc *Encoded, err error) {
	f, err := os.CreateTemp(dir, "emprata-export-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", ErrEncodingFailed, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = EncodeJPEG(f, img, quality); err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat temp file: %v", ErrEncodingFailed, err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close temp file: %v", ErrEncodingFailed, err)
	}
	return &Encoded{Path: f.Name(), Size: info.Size()}, nil
}
