package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

type redactRule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs credentials out of log lines. Extension settings are
// logged at debug level and routinely carry connection strings.
type Redactor struct {
	mu    sync.RWMutex
	rules []redactRule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactRule{
			// user:pass@ in connection URIs
			{regexp.MustCompile(`://[^/\s:@"]+:[^/\s@"]+@`), "://" + redacted + "@"},

			// Authorization header values
			{regexp.MustCompile(`(?i)\b(bearer|basic)\s+[a-zA-Z0-9._~+/=-]{8,}`), "${1} " + redacted},

			// key=value and "key":"value" secrets
			{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key)(\\?"?\s*[:=]\s*\\?"?)[^\s"\\,}]+`), "${1}${2}" + redacted},
			{regexp.MustCompile(`(?i)\b(token)(\\?"?\s*[:=]\s*\\?"?)[a-zA-Z0-9._-]{16,}`), "${1}${2}" + redacted},

			// AWS access keys
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern; whole matches are replaced
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = append(r.rules, redactRule{re: re, repl: redacted})
	r.mu.Unlock()
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not see a short write
// when redaction changes the line length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
