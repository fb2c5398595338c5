package agentloop

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SandboxPolicy is the allow-listed set of relative path prefixes a
// registry's write-capable tools may touch. The policy is stateless and
// evaluated per call, so it is safely reentrant across nested sessions.
type SandboxPolicy struct {
	AllowedPrefixes []string
}

// NewSandboxPolicy builds a policy from slash-normalized prefixes.
func NewSandboxPolicy(prefixes ...string) SandboxPolicy {
	normalized := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return SandboxPolicy{AllowedPrefixes: normalized}
}

// normalizeRelPath cleans a path for prefix comparison. It returns the
// cleaned slash-separated path and whether the path stays relative to the
// workspace root.
func normalizeRelPath(p string) (string, bool) {
	p = filepath.ToSlash(p)
	if path.IsAbs(p) {
		return p, false
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return clean, false
	}
	return clean, true
}

// Allowed reports whether the normalized relative path falls under one of
// the allowed prefixes. Absolute paths and paths escaping the workspace
// root via ".." are never allowed.
func (s SandboxPolicy) Allowed(p string) bool {
	clean, relative := normalizeRelPath(p)
	if !relative {
		return false
	}
	for _, prefix := range s.AllowedPrefixes {
		trimmed := strings.TrimSuffix(prefix, "/")
		if clean == trimmed || strings.HasPrefix(clean, trimmed+"/") {
			return true
		}
	}
	return false
}

// Refusal builds the model-visible refusal text for a rejected path. The
// refusal names the attempted path and the allowed set so the model can
// correct course; it is identical for repeated attempts on the same path.
func (s SandboxPolicy) Refusal(p string) string {
	return fmt.Sprintf("Write to %q is not allowed. Writes are restricted to the following path prefixes: %s",
		p, strings.Join(s.AllowedPrefixes, ", "))
}
