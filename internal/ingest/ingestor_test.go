package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "inlet/internal/errors"
	"inlet/internal/request"
)

// chunkReader yields the given chunks in order, then the terminal error
// (io.EOF by default). It counts Read calls so tests can assert that a
// rejection consumed nothing, or stopped consuming mid-stream.
type chunkReader struct {
	chunks [][]byte
	final  error
	idx    int
	reads  int
}

func newChunkReader(final error, chunks ...[]byte) *chunkReader {
	if final == nil {
		final = io.EOF
	}
	return &chunkReader{chunks: chunks, final: final}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	r.reads++
	if r.idx >= len(r.chunks) {
		return 0, r.final
	}
	n := copy(p, r.chunks[r.idx])
	r.idx++
	return n, nil
}

func newContext(t *testing.T, headers map[string]string) *request.Context {
	t.Helper()
	req := httptest.NewRequest("POST", "/upload", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return request.New(req, nil)
}

func newTestIngestor(t *testing.T, opts ...Option) *Ingestor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(t.TempDir(), logger, opts...)
}

func apiError(t *testing.T, err error) *apierrors.APIError {
	t.Helper()
	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr
}

func TestIngest_BufferSuccess(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, nil)
	stream := newChunkReader(nil, []byte("hello "), []byte("world"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 1024})
	require.NoError(t, err)

	body, ok := rc.Buffered()
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), body)
}

func TestIngest_BufferPreservesChunkOrder(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte("a"), 300),
		bytes.Repeat([]byte("b"), 1),
		bytes.Repeat([]byte("c"), 299),
	}
	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}

	ing := newTestIngestor(t)
	rc := newContext(t, nil)

	err := ing.Ingest(context.Background(), newChunkReader(nil, chunks...), rc, Policy{Mode: ModeBuffer, MaxBytes: 1024})
	require.NoError(t, err)

	body, ok := rc.Buffered()
	require.True(t, ok)
	assert.Equal(t, len(want), len(body))
	assert.Equal(t, want, body)
}

func TestIngest_EmptyBody(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, nil)

	err := ing.Ingest(context.Background(), newChunkReader(nil), rc, Policy{Mode: ModeBuffer, MaxBytes: 16})
	require.NoError(t, err)

	body, ok := rc.Buffered()
	require.True(t, ok)
	assert.Empty(t, body)
}

func TestIngest_BufferCeilingExceededMidStream(t *testing.T) {
	// Ceiling 1024 with chunks [512, 512, 1]: the running total only
	// exceeds the ceiling at the third chunk, so the stream must be read
	// exactly that far and no further.
	ing := newTestIngestor(t)
	rc := newContext(t, nil)
	stream := newChunkReader(nil,
		bytes.Repeat([]byte("x"), 512),
		bytes.Repeat([]byte("x"), 512),
		[]byte("x"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 1024})
	apiErr := apiError(t, err)
	assert.Equal(t, 413, apiErr.StatusCode)
	assert.Equal(t, apierrors.CodePayloadTooLarge, apiErr.ErrorCode)

	assert.False(t, rc.HasPayload(), "no payload may be attached on rejection")
	assert.Equal(t, 3, stream.reads, "must stop reading at the violating chunk")
}

func TestIngest_ContentTypeNotAllowed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{"wrong type", "text/plain"},
		{"missing type", ""},
		{"prefix is not exact match", "application/json; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := newTestIngestor(t)
			headers := map[string]string{}
			if tt.contentType != "" {
				headers["Content-Type"] = tt.contentType
			}
			rc := newContext(t, headers)
			stream := newChunkReader(nil, []byte("ignored"))

			err := ing.Ingest(context.Background(), stream, rc, Policy{
				Mode:         ModeBuffer,
				AllowedTypes: []string{"application/json"},
			})
			apiErr := apiError(t, err)
			assert.Equal(t, 415, apiErr.StatusCode)
			assert.Equal(t, apierrors.CodeIncorrectContentType, apiErr.ErrorCode)

			assert.Zero(t, stream.reads, "no bytes may be consumed")
			assert.False(t, rc.HasPayload())
		})
	}
}

func TestIngest_DeclaredLengthFastPath(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, map[string]string{"Content-Length": "2048"})
	stream := newChunkReader(nil, []byte("ignored"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 1024})
	apiErr := apiError(t, err)
	assert.Equal(t, 413, apiErr.StatusCode)
	assert.Zero(t, stream.reads, "declared-length rejection must not read the stream")
}

func TestIngest_DeclaredLengthLies(t *testing.T) {
	// Content-Length claims 10 bytes; the stream delivers more. The
	// observed-size check must still fire.
	ing := newTestIngestor(t)
	rc := newContext(t, map[string]string{"Content-Length": "10"})
	stream := newChunkReader(nil, bytes.Repeat([]byte("x"), 64), bytes.Repeat([]byte("x"), 64))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 100})
	apiErr := apiError(t, err)
	assert.Equal(t, apierrors.CodePayloadTooLarge, apiErr.ErrorCode)
	assert.False(t, rc.HasPayload())
}

func TestIngest_NoCeilingAcceptsLargeBody(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, nil)
	big := bytes.Repeat([]byte("y"), 1<<16)

	err := ing.Ingest(context.Background(), strings.NewReader(string(big)), rc, Policy{Mode: ModeBuffer})
	require.NoError(t, err)

	body, ok := rc.Buffered()
	require.True(t, ok)
	assert.Len(t, body, len(big))
}

func TestIngest_BufferTransportError(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, nil)
	stream := newChunkReader(errors.New("connection reset"), []byte("partial"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 1024})
	apiErr := apiError(t, err)
	assert.Equal(t, apierrors.CodeTransportFailure, apiErr.ErrorCode)
	assert.Equal(t, 502, apiErr.StatusCode)
	assert.False(t, rc.HasPayload())
}

func TestIngest_PayloadSlotOccupied(t *testing.T) {
	ing := newTestIngestor(t)
	rc := newContext(t, nil)
	require.NoError(t, rc.AttachBuffered([]byte("already")))

	err := ing.Ingest(context.Background(), newChunkReader(nil), rc, Policy{Mode: ModeBuffer})
	require.Error(t, err)
}

func TestIngest_StreamSuccess(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := New(dir, logger)
	rc := newContext(t, nil)

	err := ing.Ingest(context.Background(), newChunkReader(nil, []byte("stream"), []byte("ed body")), rc, Policy{Mode: ModeStream, MaxBytes: 1024})
	require.NoError(t, err)

	path, ok := rc.FilePath()
	require.True(t, ok)
	content, err2 := os.ReadFile(path)
	require.NoError(t, err2)
	assert.Equal(t, []byte("streamed body"), content)

	_, buffered := rc.Buffered()
	assert.False(t, buffered, "stream mode must not also attach bytes")
}

func TestIngest_StreamCeilingDeletesPartialFile(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := New(dir, logger)
	rc := newContext(t, nil)
	stream := newChunkReader(nil,
		bytes.Repeat([]byte("x"), 512),
		bytes.Repeat([]byte("x"), 512),
		[]byte("x"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeStream, MaxBytes: 1024})
	apiErr := apiError(t, err)
	assert.Equal(t, 413, apiErr.StatusCode)

	entries, err2 := os.ReadDir(dir)
	require.NoError(t, err2)
	assert.Empty(t, entries, "partial staging file must not survive rejection")
	assert.False(t, rc.HasPayload())
}

func TestIngest_StreamTransportErrorDeletesPartialFile(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := New(dir, logger)
	rc := newContext(t, nil)
	stream := newChunkReader(errors.New("peer went away"), []byte("partial data"))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeStream, MaxBytes: 1024})
	apiErr := apiError(t, err)
	assert.Equal(t, apierrors.CodeTransportFailure, apiErr.ErrorCode)

	entries, err2 := os.ReadDir(dir)
	require.NoError(t, err2)
	assert.Empty(t, entries)
}

func TestIngest_StreamCancelledContext(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := New(dir, logger)
	rc := newContext(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ing.Ingest(ctx, newChunkReader(nil, []byte("data")), rc, Policy{Mode: ModeStream})
	apiErr := apiError(t, err)
	assert.Equal(t, apierrors.CodeTransportFailure, apiErr.ErrorCode)

	entries, err2 := os.ReadDir(dir)
	require.NoError(t, err2)
	assert.Empty(t, entries)
}

func TestIngest_SmallChunkSizeEnforcesPerChunk(t *testing.T) {
	// With a 1-byte read granularity the ceiling check runs on every byte,
	// so the reject happens as soon as the total passes the limit.
	ing := newTestIngestor(t, WithChunkSize(1))
	rc := newContext(t, nil)
	stream := strings.NewReader(strings.Repeat("z", 64))

	err := ing.Ingest(context.Background(), stream, rc, Policy{Mode: ModeBuffer, MaxBytes: 8})
	apiErr := apiError(t, err)
	assert.Equal(t, apierrors.CodePayloadTooLarge, apiErr.ErrorCode)
	details, ok := apiErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 9, details["size"])
}
