package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence/internal/capture"
	"presence/internal/environment"
	"presence/internal/metrics"
	"presence/internal/notify"
	"presence/internal/storage"
)

var (
	ErrAuthenticationRequired = errors.New("attendance: authentication required")
	ErrEnvironmentUnavailable = errors.New("attendance: location or IP not available")
	ErrUploadFailure          = errors.New("attendance: photo upload failed")
	ErrRecordPersistFailure   = errors.New("attendance: record could not be persisted")
	ErrSubmissionInProgress   = errors.New("attendance: submission already in progress")
	ErrNoArtifact             = errors.New("attendance: no captured photo")
)

// Options configures where artifacts go and how long notification may take.
type Options struct {
	Bucket        string
	CacheControl  string
	NotifyTimeout time.Duration
}

// Submitter runs the upload → persist → notify sequence for one attendance point.
// At most one submission is in flight at a time.
type Submitter struct {
	objects  ObjectStore
	logs     LogStore
	notifier notify.Notifier
	opts     Options
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	inFlight atomic.Bool
	recorded atomic.Bool
}

// NewSubmitter creates a submitter. notifier may be nil to skip notification.
func NewSubmitter(objects ObjectStore, logs LogStore, notifier notify.Notifier, opts Options, logger zerolog.Logger) *Submitter {
	if opts.Bucket == "" {
		opts.Bucket = "login-photos"
	}
	if opts.CacheControl == "" {
		opts.CacheControl = "3600"
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	return &Submitter{
		objects:  objects,
		logs:     logs,
		notifier: notifier,
		opts:     opts,
		log:      logger.With().Str("component", "submitter").Logger(),
		tracer:   otel.Tracer("presence/attendance"),
		now:      time.Now,
	}
}

// InFlight reports whether a submission is running.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// Recorded reports whether the most recent submission succeeded.
func (s *Submitter) Recorded() bool { return s.recorded.Load() }

// Submit records attendance for art. The artifact is consumed by the attempt whether or
// not it succeeds. A notification failure is logged and does not fail the submission.
func (s *Submitter) Submit(ctx context.Context, art *capture.Artifact, snap environment.Snapshot, id Identity) (rec Record, err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.Submissions.WithLabelValues("in_progress").Inc()
		return Record{}, ErrSubmissionInProgress
	}
	defer s.inFlight.Store(false)
	s.recorded.Store(false)

	ctx, span := s.tracer.Start(ctx, "attendance.submit", trace.WithAttributes(attribute.String("identity", id.Ref)))
	defer func() {
		metrics.Submissions.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
	}()

	if art == nil {
		return Record{}, ErrNoArtifact
	}
	// Any attempt that gets past the in-flight guard spends the capture.
	if err := art.Claim(); err != nil {
		return Record{}, err
	}
	if !id.Valid() {
		return Record{}, ErrAuthenticationRequired
	}
	if snap.Degraded() {
		return Record{}, fmt.Errorf("%w: location=%q ip=%q", ErrEnvironmentUnavailable, snap.Location, snap.IPAddress)
	}

	at := s.now().UTC()
	key := ObjectKey(id.Ref, at, art.Extension())
	log := s.log.With().Str("identity", id.Ref).Str("bucket", s.opts.Bucket).Str("key", key).Logger()

	if err := s.step(ctx, "upload", func(ctx context.Context) error {
		return s.objects.Upload(ctx, s.opts.Bucket, key, art.Reader(), storage.UploadOptions{
			ContentType:  art.MimeType,
			CacheControl: s.opts.CacheControl,
		})
	}); err != nil {
		log.Error().Err(err).Msg("upload failed")
		return Record{}, fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}

	rec = Record{
		ID:         uuid.NewString(),
		EmployeeID: id.Ref,
		Name:       id.Name,
		LoginTime:  at,
		Location:   snap.Location,
		IPAddress:  snap.IPAddress,
		PhotoURL:   s.objects.PublicURL(s.opts.Bucket, key),
	}

	if err := s.step(ctx, "persist", func(ctx context.Context) error {
		return s.logs.Insert(ctx, rec)
	}); err != nil {
		log.Error().Err(err).Str("photo_url", rec.PhotoURL).Msg("record append failed; stored photo is orphaned")
		return Record{}, fmt.Errorf("%w: %w", ErrRecordPersistFailure, err)
	}
	s.recorded.Store(true)
	log.Info().Str("record_id", rec.ID).Msg("attendance recorded")

	s.dispatch(ctx, rec, log)
	return rec, nil
}

func (s *Submitter) dispatch(ctx context.Context, rec Record, log zerolog.Logger) {
	if s.notifier == nil {
		return
	}
	// the caller's cancellation must not cut the alert short once the record exists
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()
	if err := s.step(nctx, "notify", func(ctx context.Context) error {
		return s.notifier.Notify(ctx, rec.Payload())
	}); err != nil {
		log.Warn().Err(err).Str("record_id", rec.ID).Msg("notification failed")
	}
}

func (s *Submitter) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "attendance."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.SubmitStep.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

// ObjectKey names the stored photo: login-<ref>-<unix millis>.<ext>.
func ObjectKey(ref string, at time.Time, ext string) string {
	return fmt.Sprintf("login-%s-%d.%s", sanitize(ref), at.UnixMilli(), ext)
}

func sanitize(ref string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, ref)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "recorded"
	case errors.Is(err, ErrSubmissionInProgress):
		return "in_progress"
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrEnvironmentUnavailable):
		return "environment_unavailable"
	case errors.Is(err, ErrUploadFailure):
		return "upload_failure"
	case errors.Is(err, ErrRecordPersistFailure):
		return "persist_failure"
	default:
		return "rejected"
	}
}
