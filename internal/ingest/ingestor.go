// Package ingest drains inbound request bodies under a declarative policy:
// content-type allow-listing, a byte ceiling enforced while bytes are still
// arriving, and a choice between in-memory buffering and staging to disk.
// Every rejection path releases whatever the attempt acquired (partial
// buffer, partial file) before the rejection is surfaced.
package ingest

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"strconv"

	apierrors "inlet/internal/errors"
	"inlet/internal/metrics"
	"inlet/internal/request"
)

var errPayloadOccupied = stderrors.New("request context already has a payload")

// defaultChunkSize is the read granularity for draining bodies. Ceiling
// enforcement happens after every chunk, so this also bounds how far past
// the ceiling an attempt can over-read before aborting.
const defaultChunkSize = 32 * 1024

// Ingestor drives inbound byte streams into buffers or staged files.
// One Ingestor serves all concurrent requests; each Ingest call owns its
// buffer or file exclusively, so no locking is needed.
type Ingestor struct {
	stagingDir string
	chunkSize  int
	nameGen    NameGenerator
	logger     *slog.Logger
	metrics    *metrics.Ingest
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunkSize overrides the read granularity.
func WithChunkSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.chunkSize = n
		}
	}
}

// WithNameGenerator overrides the staging-file name source.
func WithNameGenerator(gen NameGenerator) Option {
	return func(ing *Ingestor) {
		ing.nameGen = gen
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Ingest) Option {
	return func(ing *Ingestor) {
		ing.metrics = m
	}
}

// New creates an Ingestor staging files under dir.
func New(stagingDir string, logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	ing := &Ingestor{
		stagingDir: stagingDir,
		chunkSize:  defaultChunkSize,
		nameGen:    RandomName,
		logger:     logger.With(slog.String("component", "ingestor")),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest drains body under policy and attaches the result to rc. A nil
// return means the payload slot is populated; a non-nil return is always an
// *errors.APIError carrying the HTTP status to surface, and guarantees that
// nothing the attempt acquired survives the call.
func (ing *Ingestor) Ingest(ctx context.Context, body io.Reader, rc *request.Context, policy Policy) error {
	if rc.HasPayload() {
		return apierrors.InternalError("ingest", errPayloadOccupied)
	}

	// Declared-type check, before any bytes are read.
	if !policy.typeAllowed(rc.ContentType()) {
		ing.observe(policy.Mode, metrics.OutcomeContentType)
		ing.logger.WarnContext(ctx, "upload rejected: content type not allowed",
			slog.String("request_id", rc.ID),
			slog.String("content_type", rc.ContentType()))
		return apierrors.IncorrectContentType(rc.ContentType(), policy.AllowedTypes)
	}

	// Declared-length fast path. Content-Length can be absent, wrong, or
	// adversarial, so the per-chunk check below is the real enforcement.
	if policy.MaxBytes > 0 {
		if declared, err := strconv.ParseInt(rc.ContentLength(), 10, 64); err == nil && declared > policy.MaxBytes {
			ing.observe(policy.Mode, metrics.OutcomePayloadTooLarge)
			ing.logger.WarnContext(ctx, "upload rejected: declared length exceeds ceiling",
				slog.String("request_id", rc.ID),
				slog.Int64("declared", declared),
				slog.Int64("max_bytes", policy.MaxBytes))
			return apierrors.PayloadTooLarge(policy.MaxBytes, declared)
		}
	}

	if ing.metrics != nil {
		ing.metrics.IncInFlight()
		defer ing.metrics.DecInFlight()
	}

	switch policy.Mode {
	case ModeStream:
		return ing.ingestToFile(ctx, body, rc, policy)
	default:
		return ing.ingestToBuffer(ctx, body, rc, policy)
	}
}

// ingestToBuffer accumulates the body in memory, checking the ceiling after
// every chunk so an oversized upload aborts mid-stream instead of after
// full buffering.
func (ing *Ingestor) ingestToBuffer(ctx context.Context, body io.Reader, rc *request.Context, policy Policy) error {
	var acc bytes.Buffer
	var total int64
	chunk := make([]byte, ing.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
			return apierrors.TransportFailure(err)
		}

		n, err := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			ing.addBytes(int64(n))
			if policy.MaxBytes > 0 && total > policy.MaxBytes {
				ing.observe(policy.Mode, metrics.OutcomePayloadTooLarge)
				ing.logger.WarnContext(ctx, "upload rejected mid-stream: ceiling exceeded",
					slog.String("request_id", rc.ID),
					slog.Int64("received", total),
					slog.Int64("max_bytes", policy.MaxBytes))
				return apierrors.PayloadTooLarge(policy.MaxBytes, total)
			}
			acc.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
			ing.logger.ErrorContext(ctx, "upload failed: transport error while buffering",
				slog.String("request_id", rc.ID),
				slog.String("error", err.Error()))
			return apierrors.TransportFailure(err)
		}
	}

	if err := rc.AttachBuffered(acc.Bytes()); err != nil {
		return apierrors.InternalError("ingest", err)
	}
	ing.observe(policy.Mode, metrics.OutcomeSuccess)
	ing.logger.DebugContext(ctx, "upload buffered",
		slog.String("request_id", rc.ID),
		slog.Int64("bytes", total))
	return nil
}

// ingestToFile streams the body into a staged file. Any failure closes and
// deletes the file before the rejection is returned, so no caller ever
// observes a partial staging file.
func (ing *Ingestor) ingestToFile(ctx context.Context, body io.Reader, rc *request.Context, policy Policy) error {
	sink, path, err := createStagingFile(ing.stagingDir, ing.nameGen)
	if err != nil {
		ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
		ing.logger.ErrorContext(ctx, "upload failed: could not open staging file",
			slog.String("request_id", rc.ID),
			slog.String("error", err.Error()))
		return apierrors.StorageFailure(err)
	}

	discard := func() {
		sink.Close()
		if err := os.Remove(path); err != nil {
			ing.logger.ErrorContext(ctx, "failed to remove partial staging file",
				slog.String("request_id", rc.ID),
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	var total int64
	chunk := make([]byte, ing.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			discard()
			ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
			return apierrors.TransportFailure(err)
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			total += int64(n)
			ing.addBytes(int64(n))
			if policy.MaxBytes > 0 && total > policy.MaxBytes {
				discard()
				ing.observe(policy.Mode, metrics.OutcomePayloadTooLarge)
				ing.logger.WarnContext(ctx, "upload rejected mid-stream: ceiling exceeded",
					slog.String("request_id", rc.ID),
					slog.Int64("received", total),
					slog.Int64("max_bytes", policy.MaxBytes))
				return apierrors.PayloadTooLarge(policy.MaxBytes, total)
			}
			if _, err := sink.Write(chunk[:n]); err != nil {
				discard()
				ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
				ing.logger.ErrorContext(ctx, "upload failed: write error on staging file",
					slog.String("request_id", rc.ID),
					slog.String("error", err.Error()))
				return apierrors.StorageFailure(err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			discard()
			ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
			ing.logger.ErrorContext(ctx, "upload failed: transport error while streaming",
				slog.String("request_id", rc.ID),
				slog.String("error", readErr.Error()))
			return apierrors.TransportFailure(readErr)
		}
	}

	if err := sink.Close(); err != nil {
		os.Remove(path)
		ing.observe(policy.Mode, metrics.OutcomeTransportFailure)
		return apierrors.StorageFailure(err)
	}

	if err := rc.AttachFile(path); err != nil {
		os.Remove(path)
		return apierrors.InternalError("ingest", err)
	}
	ing.observe(policy.Mode, metrics.OutcomeSuccess)
	ing.logger.DebugContext(ctx, "upload staged",
		slog.String("request_id", rc.ID),
		slog.String("path", path),
		slog.Int64("bytes", total))
	return nil
}

func (ing *Ingestor) observe(mode Mode, outcome string) {
	if ing.metrics != nil {
		ing.metrics.ObserveAttempt(mode.String(), outcome)
	}
}

func (ing *Ingestor) addBytes(n int64) {
	if ing.metrics != nil {
		ing.metrics.AddBytes(n)
	}
}
