// Package request wraps a single inbound HTTP request for the dispatch and
// ingestion layers: headers, method, path, and a payload slot that the
// ingestion step fills exactly once.
package request

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"

	apierrors "inlet/internal/errors"
	"inlet/internal/shape"
)

// payloadKind tracks which form of payload, if any, has been attached.
type payloadKind int

const (
	payloadNone payloadKind = iota
	payloadBuffered
	payloadFile
)

// Context carries one inbound request through ingestion and dispatch.
// The payload slot is filled at most once, with exactly one of an in-memory
// body or a staged file path, never both.
type Context struct {
	ID     string
	Method string
	Path   string
	Header http.Header

	checker shape.Checker

	kind     payloadKind
	body     []byte
	filePath string

	decoded    interface{}
	hasDecoded bool
}

// New creates a request context from an inbound HTTP request.
func New(r *http.Request, checker shape.Checker) *Context {
	return &Context{
		ID:      uuid.NewString(),
		Method:  r.Method,
		Path:    r.URL.Path,
		Header:  r.Header,
		checker: checker,
	}
}

// ContentType returns the declared Content-Type header, or "" when absent.
func (c *Context) ContentType() string {
	return c.Header.Get("Content-Type")
}

// ContentLength returns the declared Content-Length header, or "" when absent.
func (c *Context) ContentLength() string {
	return c.Header.Get("Content-Length")
}

// HasPayload reports whether the payload slot has been filled.
func (c *Context) HasPayload() bool {
	return c.kind != payloadNone
}

// AttachBuffered fills the payload slot with an in-memory body.
func (c *Context) AttachBuffered(body []byte) error {
	if c.kind != payloadNone {
		return apierrors.InternalError("ingestion",
			errPayloadAlreadySet)
	}
	c.kind = payloadBuffered
	c.body = body
	return nil
}

// AttachFile fills the payload slot with a staged file path. Ownership of
// the file transfers to whichever handler reads it; this package never
// deletes a successfully staged file.
func (c *Context) AttachFile(path string) error {
	if c.kind != payloadNone {
		return apierrors.InternalError("ingestion",
			errPayloadAlreadySet)
	}
	c.kind = payloadFile
	c.filePath = path
	return nil
}

// Buffered returns the in-memory payload, if one was attached.
func (c *Context) Buffered() ([]byte, bool) {
	return c.body, c.kind == payloadBuffered
}

// FilePath returns the staged file path, if one was attached.
func (c *Context) FilePath() (string, bool) {
	return c.filePath, c.kind == payloadFile
}

// DecodeJSON attempts to decode a buffered payload as UTF-8 JSON and caches
// the result. Failure to decode is not an error here; it surfaces later as
// a ValidationError if a caller asks for shape conformity and finds no
// decoded value.
func (c *Context) DecodeJSON() {
	if c.hasDecoded || c.kind != payloadBuffered {
		return
	}
	if !utf8.Valid(c.body) {
		return
	}
	var v interface{}
	if err := json.Unmarshal(c.body, &v); err != nil {
		return
	}
	c.decoded = v
	c.hasDecoded = true
}

// Decoded returns the cached decoded JSON value, if decoding succeeded.
func (c *Context) Decoded() (interface{}, bool) {
	return c.decoded, c.hasDecoded
}

// VerifyShape checks the decoded payload against the declared shape. It
// fails with a VALIDATION_ERROR both when no decoded value is present and
// when the value does not conform.
func (c *Context) VerifyShape(declared interface{}) error {
	if !c.hasDecoded {
		return apierrors.ValidationFailed("Request body is not valid JSON", nil)
	}
	return c.checker.Conforms(c.decoded, declared)
}

var errPayloadAlreadySet = stderrors.New("payload already attached to request context")
