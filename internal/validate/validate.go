// Package validate holds the input predicates applied before a model
// identifier, source URL or filename reaches the filesystem or a process
// argument. The predicates do not log; callers report rejections with their
// own context logger.
package validate

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	maxIdentifierLen = 100
	maxFilenameLen   = 100
	artifactExt      = ".gguf"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Identifier reports whether id is a well-formed model identifier.
func Identifier(id string) bool {
	return id != "" && len(id) <= maxIdentifierLen && identifierPattern.MatchString(id)
}

// Source reports whether rawURL uses https and points at an allowed domain
// or one of its subdomains. Unparseable URLs are rejected.
func Source(rawURL string, allowedDomains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}

		if host == d || strings.HasSuffix(host, "."+strings.TrimPrefix(d, ".")) {
			return true
		}
	}

	return false
}

// Filename reports whether name is a bare artifact filename that is safe to
// join onto a directory.
func Filename(name string) bool {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}

	return strings.HasSuffix(name, artifactExt) && len(name) < maxFilenameLen
}
