package transfer

import (
	"fmt"
	"strings"
)

// Builder turns a transfer method into an argument vector for an external tool.
type Builder interface {
	Build(kind, url, outputPath string) ([]string, error)
}

// commandTemplates holds the fixed argument prefixes per method kind. The
// output path and the URL are appended in that order.
var commandTemplates = map[string][]string{
	"wget": {"wget", "-c", "--progress=dot:giga", "-O"},
	"curl": {"curl", "-L", "-C", "-", "--progress-bar", "-o"},
}

// shellMetachars are rejected even though the argument vector is never
// passed through a shell.
const shellMetachars = ";&|`"

// CommandBuilder is the default Builder backed by curl and wget.
type CommandBuilder struct{}

// Build returns the argument vector for the given method kind.
func (CommandBuilder) Build(kind, url, outputPath string) ([]string, error) {
	tmpl, ok := commandTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, kind)
	}

	if strings.ContainsAny(url, shellMetachars) {
		return nil, &ValidationError{Field: "url", Value: url, Reason: "contains prohibited characters"}
	}

	args := make([]string, 0, len(tmpl)+2)
	args = append(args, tmpl...)
	args = append(args, outputPath, url)

	return args, nil
}

// SupportedMethods lists the method kinds the builder knows about.
func SupportedMethods() []string {
	return []string{"curl", "wget"}
}
