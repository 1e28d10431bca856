package call

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	hello := base64.StdEncoding.EncodeToString([]byte("hello"))
	tests := []struct {
		name      string
		raw       string
		wantType  string
		wantAudio string
		malformed bool
	}{
		{name: "audio", raw: `{"type":"audio","data":"` + hello + `"}`, wantType: FrameAudio, wantAudio: "hello"},
		{name: "empty audio", raw: `{"type":"audio","data":""}`, wantType: FrameAudio},
		{name: "end call", raw: `{"type":"end_call"}`, wantType: FrameEndCall},
		{name: "unknown type", raw: `{"type":"ping"}`, wantType: "ping"},
		{name: "not json", raw: `hello`, malformed: true},
		{name: "json array", raw: `[1,2]`, malformed: true},
		{name: "missing type", raw: `{"data":"` + hello + `"}`, malformed: true},
		{name: "null type", raw: `{"type":null}`, malformed: true},
		{name: "audio without data", raw: `{"type":"audio"}`, malformed: true},
		{name: "audio bad base64", raw: `{"type":"audio","data":"!!!"}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in, err := DecodeFrame([]byte(tt.raw))
			if tt.malformed {
				if !IsMalformed(err) {
					t.Fatalf("Expected malformed error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() error: %v", err)
			}
			if in.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, in.Type)
			}
			if string(in.Audio) != tt.wantAudio {
				t.Errorf("Expected audio %q, got %q", tt.wantAudio, in.Audio)
			}
		})
	}
}

func TestOutboundFrameJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame Frame
		want  string
	}{
		{ConnectedFrame(), `{"type":"connected","message":"Call connected. Start speaking!"}`},
		{AudioFrame([]byte("hi")), `{"type":"audio","data":"aGk="}`},
		{ErrorFrame(MsgCallBusy), `{"type":"error","message":"call busy"}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.frame)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal = %s, want %s", got, tt.want)
		}
	}
}
