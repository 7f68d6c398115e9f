package event

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type bogus struct{}

func (bogus) Kind() Kind { return "bogus" }
func (bogus) isEvent()   {}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "started",
			ev:   Started{ModelID: "demo-model", ModelName: "Demo"},
			want: `{"type":"started","model_id":"demo-model","model_name":"Demo"}`,
		},
		{
			name: "info",
			ev:   Info{Message: "method 1/2: curl"},
			want: `{"type":"info","message":"method 1/2: curl"}`,
		},
		{
			name: "warning",
			ev:   Warning{Message: "URL not allowed: curl"},
			want: `{"type":"warning","message":"URL not allowed: curl"}`,
		},
		{
			name: "progress",
			ev:   Progress{Progress: 42, SpeedMBps: 12.5, ETASeconds: 30, Method: "wget"},
			want: `{"type":"progress","progress":42,"speed_mbps":12.5,"eta_seconds":30,"method":"wget"}`,
		},
		{
			name: "completed via method",
			ev:   Completed{Progress: 100, Method: "curl"},
			want: `{"type":"completed","progress":100,"method":"curl"}`,
		},
		{
			name: "completed already present",
			ev:   Completed{Progress: 100, Message: "Already downloaded"},
			want: `{"type":"completed","progress":100,"message":"Already downloaded"}`,
		},
		{
			name: "cancelled",
			ev:   Cancelled{Message: "Cancelled by user"},
			want: `{"type":"cancelled","message":"Cancelled by user"}`,
		},
		{
			name: "error",
			ev:   Error{Message: "All methods failed"},
			want: `{"type":"error","message":"All methods failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.ev)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncode_UnknownType(t *testing.T) {
	_, err := Encode(bogus{})
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(Completed{}))
	require.True(t, IsTerminal(Cancelled{}))
	require.True(t, IsTerminal(Error{}))
	require.False(t, IsTerminal(Started{}))
	require.False(t, IsTerminal(Info{}))
	require.False(t, IsTerminal(Warning{}))
	require.False(t, IsTerminal(Progress{}))
}

func TestStream_SendPreservesOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewStream(rec)

	require.NoError(t, s.Send(Started{ModelID: "m", ModelName: "M"}))
	require.NoError(t, s.Send(Progress{Progress: 1, Method: "curl"}))
	require.NoError(t, s.Send(Error{Message: "All methods failed"}))

	want := `data: {"type":"started","model_id":"m","model_name":"M"}` + "\n\n" +
		`data: {"type":"progress","progress":1,"speed_mbps":0,"eta_seconds":0,"method":"curl"}` + "\n\n" +
		`data: {"type":"error","message":"All methods failed"}` + "\n\n"

	require.Equal(t, want, rec.Body.String())
	require.True(t, rec.Flushed)
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
