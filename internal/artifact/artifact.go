package artifact

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/signalnine/arbiter/internal/errdefs"
)

// DefaultMaxBytes mirrors the upload limit of the dashboard (50 MB).
const DefaultMaxBytes = 50 << 20

// Artifact is one named text blob, either part of a task baseline or a
// submission.
type Artifact struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// Rules constrain what a submission may contain.
type Rules struct {
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions,omitempty"`
	MaxBytes          int64    `yaml:"max_bytes" json:"max_bytes,omitempty"`
	MaxCount          int      `yaml:"max_count" json:"max_count,omitempty"`
}

// Validate checks a submission against the rules. It returns an
// errdefs.ValidationError describing the first violation.
func (r Rules) Validate(artifacts []Artifact) error {
	if len(artifacts) == 0 {
		return errdefs.Validationf("artifacts", "at least one artifact is required")
	}
	if r.MaxCount > 0 && len(artifacts) > r.MaxCount {
		return errdefs.Validationf("artifacts", "%d artifacts submitted, at most %d allowed", len(artifacts), r.MaxCount)
	}
	maxBytes := r.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	seen := make(map[string]bool, len(artifacts))
	for i, a := range artifacts {
		field := fmt.Sprintf("artifacts[%d]", i)
		if err := checkName(a.Name); err != nil {
			return errdefs.Validationf(field, "%v", err)
		}
		if seen[a.Name] {
			return errdefs.Validationf(field, "duplicate artifact name %q", a.Name)
		}
		seen[a.Name] = true
		if int64(len(a.Content)) > maxBytes {
			return errdefs.Validationf(field, "%s is %d bytes, limit is %d", a.Name, len(a.Content), maxBytes)
		}
		if len(r.AllowedExtensions) > 0 && !hasExtension(a.Name, r.AllowedExtensions) {
			return errdefs.Validationf(field, "%s: file type not allowed (allowed: %s)", a.Name, strings.Join(r.AllowedExtensions, ", "))
		}
	}
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is required")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("artifact name %q must be a relative slash-separated path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("artifact name %q escapes the workspace", name)
		}
	}
	return nil
}

func hasExtension(name string, allowed []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if ext == a {
			return true
		}
	}
	return false
}

// Malformed reports whether an artifact cannot be treated as text.
func Malformed(a Artifact) bool {
	return !utf8.ValidString(a.Content) || strings.IndexByte(a.Content, 0) >= 0
}

// Match returns the artifacts whose name matches any of the glob patterns.
// A pattern without a slash matches against the base name too, so "*.html"
// selects "pages/index.html".
func Match(artifacts []Artifact, patterns ...string) []Artifact {
	var out []Artifact
	for _, a := range artifacts {
		for _, p := range patterns {
			if matchOne(p, a.Name) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func matchOne(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(name))
		return ok
	}
	return false
}

// Clone returns a deep copy so callers can hand artifacts across goroutines
// without sharing the backing slice.
func Clone(in []Artifact) []Artifact {
	if in == nil {
		return nil
	}
	out := make([]Artifact, len(in))
	copy(out, in)
	return out
}

// Digest writes a stable byte representation of the artifacts, used as a
// cache key component.
func Digest(buf *bytes.Buffer, artifacts []Artifact) {
	for _, a := range artifacts {
		fmt.Fprintf(buf, "%d:%s%d:", len(a.Name), a.Name, len(a.Content))
		buf.WriteString(a.Content)
	}
	buf.WriteByte('|')
}
