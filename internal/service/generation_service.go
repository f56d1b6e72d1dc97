package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/imaging"
	"github.com/LincolnGameplays/emprataai/internal/ledger"
	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/models"
	"github.com/LincolnGameplays/emprataai/internal/session"
	"github.com/LincolnGameplays/emprataai/internal/storage"
)

var (
	ErrGenerationFailed     = errors.New("generation failed")
	ErrInvalidStyle         = errors.New("invalid style")
	ErrGenerationInProgress = session.ErrGenerationInProgress
)

// Reasons reported to the UI by Attempt.
const (
	ReasonInsufficientCredits  = "InsufficientCredits"
	ReasonInvalidImage         = "InvalidImage"
	ReasonInvalidStyle         = "InvalidStyle"
	ReasonGenerationInProgress = "GenerationInProgress"
	ReasonGenerationFailed     = "GenerationFailed"
)

type ImageGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, kind string, data []byte, contentType string) (string, error)
}

type GenerationLogger interface {
	Log(ctx context.Context, entry models.GenerationLog) error
	CountForDay(ctx context.Context, accountID int64, day time.Time) (int, error)
}

type GenerationService struct {
	log       *slog.Logger
	generator ImageGenerator
	uploader  Uploader
	history   GenerationLogger
	metrics   *metrics.Collectors
	size      int
}

type GenerationRequest struct {
	Source []byte
	Style  models.StyleParams
}

type GenerationResult struct {
	AttemptID   string
	Image       *models.Image
	Provider    string
	Charged     bool
	CreditsLeft int
}

// AttemptResult is the UI-facing outcome: either Success with an Image or a
// Reason naming why nothing was produced.
type AttemptResult struct {
	Success  bool          `json:"success"`
	Image    *models.Image `json:"image,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Credits  int           `json:"credits"`
}

// NewGenerationService wires the pipeline. uploader and history may be nil:
// without an uploader the generator gets no source URL, without history
// attempts are only logged.
func NewGenerationService(log *slog.Logger, gen ImageGenerator, uploader Uploader, history GenerationLogger, m *metrics.Collectors, canonicalSize int) *GenerationService {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if canonicalSize <= 0 {
		canonicalSize = imaging.CanonicalSize
	}
	return &GenerationService{
		log:       log,
		generator: gen,
		uploader:  uploader,
		history:   history,
		metrics:   m,
		size:      canonicalSize,
	}
}

// Generate runs one paid attempt for the session's account. The credit is
// taken before the external call and handed back on every failure after it.
func (s *GenerationService) Generate(ctx context.Context, sess *session.Session, req GenerationRequest) (*GenerationResult, error) {
	if sess == nil {
		return nil, fmt.Errorf("generate: no session")
	}
	if len(req.Source) == 0 {
		return nil, fmt.Errorf("%w: no source photo", imaging.ErrInvalidImage)
	}
	if err := req.Style.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStyle, err)
	}
	if err := sess.Begin(); err != nil {
		return nil, err
	}
	defer sess.End()

	l := sess.Ledger()
	if !l.CanSpend() {
		return nil, ledger.ErrInsufficientCredits
	}

	normalized, err := s.normalize(req.Source)
	if err != nil {
		return nil, err
	}

	receipt, err := l.Charge()
	if err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	log := s.log.With("account_id", sess.AccountID(), "attempt_id", attemptID)
	var (
		result    *generator.Result
		committed bool
	)
	defer func() {
		if !committed {
			l.Refund(receipt)
			log.Warn("generation failed, credit refunded", "charged", receipt.Debited(), "credits", l.Balance())
		}
		s.record(sess.AccountID(), attemptID, req.Style, result, committed, receipt.Debited())
	}()

	var sourceURL string
	if s.uploader != nil {
		sourceURL, err = s.uploader.Upload(ctx, storage.KindSource, normalized, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("%w: upload source: %w", ErrGenerationFailed, err)
		}
	}

	started := time.Now()
	result, err = s.generator.Generate(ctx, generator.Request{
		Prompt:      generator.BuildPrompt(req.Style),
		SourceURL:   sourceURL,
		Style:       req.Style,
		AspectRatio: "1:1",
		Resolution:  "1K",
	})
	took := time.Since(started)
	if err != nil {
		s.metrics.Generation("unknown", string(models.OutcomeFailed), took)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if result == nil || result.Image.Empty() {
		s.metrics.Generation("unknown", string(models.OutcomeFailed), took)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, generator.ErrMalformedOutput)
	}

	committed = true
	s.metrics.Generation(result.Provider, string(models.OutcomeSucceeded), took)
	sess.SetLastImage(result.Image)
	log.Info("generation succeeded", "provider", result.Provider, "took", took, "credits", l.Balance())

	return &GenerationResult{
		AttemptID:   attemptID,
		Image:       result.Image,
		Provider:    result.Provider,
		Charged:     receipt.Debited(),
		CreditsLeft: l.Balance(),
	}, nil
}

// Attempt is Generate with its errors folded into a reason code.
func (s *GenerationService) Attempt(ctx context.Context, sess *session.Session, req GenerationRequest) AttemptResult {
	res, err := s.Generate(ctx, sess, req)
	credits := 0
	if sess != nil {
		credits = sess.Ledger().Balance()
	}
	if err != nil {
		return AttemptResult{Reason: ReasonFor(err), Credits: credits}
	}
	return AttemptResult{Success: true, Image: res.Image, Provider: res.Provider, Credits: res.CreditsLeft}
}

// ReasonFor maps a Generate error onto its UI reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return ReasonInsufficientCredits
	case errors.Is(err, imaging.ErrInvalidImage):
		return ReasonInvalidImage
	case errors.Is(err, ErrInvalidStyle):
		return ReasonInvalidStyle
	case errors.Is(err, ErrGenerationInProgress):
		return ReasonGenerationInProgress
	default:
		return ReasonGenerationFailed
	}
}

func (s *GenerationService) normalize(source []byte) ([]byte, error) {
	img, _, err := imaging.Decode(source)
	if err != nil {
		return nil, err
	}
	square, err := imaging.NormalizeToSquare(img, s.size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, square, imaging.NormalizeQuality); err != nil {
		return nil, fmt.Errorf("%w: %w", imaging.ErrInvalidImage, err)
	}
	return buf.Bytes(), nil
}

func (s *GenerationService) record(accountID int64, attemptID string, style models.StyleParams, result *generator.Result, ok, charged bool) {
	if s.history == nil {
		return
	}
	entry := models.GenerationLog{
		AttemptID: attemptID,
		AccountID: accountID,
		Style:     style,
		Outcome:   models.OutcomeFailed,
		Charged:   charged && ok,
	}
	if ok {
		entry.Outcome = models.OutcomeSucceeded
		entry.Provider = result.Provider
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Log(ctx, entry); err != nil {
		s.log.Error("failed to log generation", "attempt_id", attemptID, "err", err)
	}
}

// DailyCount is the number of successful generations of the account today (UTC).
func (s *GenerationService) DailyCount(ctx context.Context, accountID int64) (int, error) {
	if s.history == nil {
		return 0, nil
	}
	return s.history.CountForDay(ctx, accountID, time.Now().UTC())
}
