package ffmpeg

import "testing"

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[info] Stream mapping:", "info", "Stream mapping:"},
		{"[warning] past duration 0.99 too large", "warning", "past duration 0.99 too large"},
		{"[h264 @ 0x5581] [error] no frame!", "error", "[h264 @ 0x5581] no frame!"},
		{"frame=  100 fps= 30", "info", "frame=  100 fps= 30"},
		{"[mp4 @ 0x1] plain", "info", "[mp4 @ 0x1] plain"},
		{"[]", "info", "[]"},
	}
	for _, tt := range tests {
		level, msg := ParseLogLevel(tt.line)
		if level != tt.wantLevel || msg != tt.wantMsg {
			t.Errorf("ParseLogLevel(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
		}
	}
}

func TestQuietParserDemotesPayload(t *testing.T) {
	if level, _ := quietParser(`{"streams": []}`); level != "debug" {
		t.Errorf("payload level = %q, want debug", level)
	}
	if level, _ := quietParser("[error] boom"); level != "error" {
		t.Errorf("prefixed level = %q, want error", level)
	}
}

func TestIsStructural(t *testing.T) {
	tests := map[string]bool{
		"[error] Could not write header for output file #0":  true,
		"[tcp @ 0x1] [error] Connection refused":             true,
		"[error] Conversion failed!":                         true,
		"[warning] Past duration 0.999 too large":            false,
		"[h264 @ 0x1] [error] error while decoding MB 12 34": false,
	}
	for line, want := range tests {
		if got := IsStructural(line); got != want {
			t.Errorf("IsStructural(%q) = %v, want %v", line, got, want)
		}
	}
}
