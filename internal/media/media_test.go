package media

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		entry string
		want  Type
	}{
		{"/videos/clip.mp4", Video},
		{"/videos/CLIP.MKV", Video},
		{"banner.png", Image},
		{"notes.txt", Unknown},
		{"https://cdn.example.com/big_buck_bunny.mp4", Video},
		{"https://cdn.example.com/live/index.m3u8", Stream},
		{"https://cdn.example.com/live/index.m3u8?token=abc", Stream},
		{"rtsp://camera.local/stream1", Stream},
		{"https://example.com/watch", Stream},
		{"ftp://example.com/readme", Unknown},
		{"file:///srv/media/loop.webm", Video},
		{"mailto://nobody", Unknown},
	}

	for _, tt := range tests {
		if got := Detect(tt.entry); got != tt.want {
			t.Errorf("Detect(%q) = %s, want %s", tt.entry, got, tt.want)
		}
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("http://example.com/a.mp4") {
		t.Error("expected http URL to be remote")
	}
	if IsRemote("/srv/a.mp4") {
		t.Error("expected absolute path to be local")
	}
	if IsRemote(`C:\media\a.mp4`) {
		t.Error("expected windows path to be local")
	}
}

func TestIsSupported(t *testing.T) {
	if IsSupported("readme.md") {
		t.Error("markdown should not be supported")
	}
	if !IsSupported("clip.ts") {
		t.Error("transport streams should be supported")
	}
}
