package ingest

// Mode selects where an inbound body is materialized.
type Mode int

const (
	// ModeBuffer accumulates the body in memory.
	ModeBuffer Mode = iota
	// ModeStream writes the body to a staged file on disk.
	ModeStream
)

// String returns the mode name used in logs and metrics labels.
func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	default:
		return "buffer"
	}
}

// Policy is the declarative upload configuration for one endpoint. A Policy
// is immutable once constructed and is shared read-only across concurrent
// ingestions.
type Policy struct {
	// Mode selects buffering versus streaming to disk.
	Mode Mode
	// AllowedTypes, when non-empty, is an exact-match allow-list for the
	// declared Content-Type header.
	AllowedTypes []string
	// MaxBytes, when positive, is the ceiling on body size. Zero means no
	// limit, which in ModeBuffer means unbounded memory growth the caller
	// opts into.
	MaxBytes int64
}

// typeAllowed reports whether the declared content type is an exact member
// of the allow-list. An empty allow-list admits everything.
func (p Policy) typeAllowed(contentType string) bool {
	if len(p.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range p.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}
