package validate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "catalog style id", id: "Llama-3.2-3B-Instruct-Q4_K_M", want: true},
		{name: "with dots", id: "qwen2.5-7b.gguf", want: true},
		{name: "single char", id: "a", want: true},
		{name: "max length", id: strings.Repeat("a", 100), want: true},
		{name: "empty", id: "", want: false},
		{name: "too long", id: strings.Repeat("a", 101), want: false},
		{name: "path traversal", id: "../etc/passwd", want: false},
		{name: "space", id: "demo model", want: false},
		{name: "shell metachar", id: "demo;rm", want: false},
		{name: "unicode", id: "módelo", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.id))
		})
	}
}

func TestSource(t *testing.T) {
	allowed := []string{"huggingface.co", "cdn-lfs.hf.co"}

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "exact domain", url: "https://huggingface.co/org/repo/resolve/main/m.gguf", want: true},
		{name: "subdomain", url: "https://cdn.huggingface.co/m.gguf", want: true},
		{name: "second allowed entry", url: "https://cdn-lfs.hf.co/m.gguf", want: true},
		{name: "uppercase host", url: "https://HuggingFace.CO/m.gguf", want: true},
		{name: "with port", url: "https://huggingface.co:443/m.gguf", want: true},
		{name: "plain http", url: "http://huggingface.co/m.gguf", want: false},
		{name: "other scheme", url: "ftp://huggingface.co/m.gguf", want: false},
		{name: "blocked domain", url: "https://blocked.example/x", want: false},
		{name: "lookalike suffix", url: "https://evilhuggingface.co/m.gguf", want: false},
		{name: "allowed name in path only", url: "https://evil.example/huggingface.co/m.gguf", want: false},
		{name: "userinfo trick", url: "https://huggingface.co@evil.example/m.gguf", want: false},
		{name: "unparseable", url: "https://[::1", want: false},
		{name: "empty", url: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Source(tt.url, allowed))
		})
	}
}

func TestSource_EmptyAllowList(t *testing.T) {
	assert.False(t, Source("https://huggingface.co/m.gguf", nil))
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{name: "gguf", filename: "Llama-3.2-3B-Instruct-Q4_K_M.gguf", want: true},
		{name: "parent marker", filename: "..model.gguf", want: false},
		{name: "forward slash", filename: "models/m.gguf", want: false},
		{name: "backslash", filename: `models\m.gguf`, want: false},
		{name: "wrong extension", filename: "model.bin", want: false},
		{name: "no extension", filename: "model", want: false},
		{name: "too long", filename: strings.Repeat("a", 95) + ".gguf", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.filename))
		})
	}
}

func TestValidators_AreDeterministic(t *testing.T) {
	inputs := []string{"demo-model", "../x", "", "https://huggingface.co/m.gguf", "m.gguf"}
	allowed := []string{"huggingface.co"}

	for _, in := range inputs {
		first := [3]bool{Identifier(in), Source(in, allowed), Filename(in)}

		for i := 0; i < 3; i++ {
			again := [3]bool{Filename(in), Source(in, allowed), Identifier(in)}
			assert.Equal(t, first, [3]bool{again[2], again[1], again[0]}, "input %q", in)
		}
	}

	assert.Equal(t, []string{"huggingface.co"}, allowed, "allow-list must not be mutated")
}

func TestPredicatesDoNotLog(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	assert.False(t, Identifier("bad id"))
	assert.False(t, Source("http://huggingface.co/m.gguf", []string{"huggingface.co"}))
	assert.False(t, Source("https://evil.example/m.gguf", []string{"huggingface.co"}))
	assert.False(t, Filename("../m.gguf"))
	assert.False(t, Filename("m.bin"))

	assert.Empty(t, buf.String())
}
