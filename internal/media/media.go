// Package media classifies playlist entries (local paths or URLs) so the
// playlist layer can drop anything the engine cannot play.
package media

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Type represents the kind of media an entry points at.
type Type int

const (
	Unknown Type = iota
	Video
	Image
	Stream
)

func (t Type) String() string {
	switch t {
	case Video:
		return "video"
	case Image:
		return "image"
	case Stream:
		return "stream"
	default:
		return "unknown"
	}
}

var videoExts = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".ts":   true,
	".m4v":  true,
	".hevc": true,
	".flv":  true,
	".wmv":  true,
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// Adaptive streaming manifests.
var streamExts = map[string]bool{
	".m3u8": true,
	".mpd":  true,
}

// Network schemes the engine can open directly.
var streamSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"rtsp":  true,
	"rtmp":  true,
	"udp":   true,
	"rtp":   true,
	"srt":   true,
}

// Detect returns the media type for a local path or URL.
// Network URLs without a recognised extension are assumed to be streams.
func Detect(entry string) Type {
	if u, ok := parseURL(entry); ok {
		ext := strings.ToLower(path.Ext(u.Path))
		if t := byExt(ext); t != Unknown {
			return t
		}
		if streamSchemes[u.Scheme] {
			return Stream
		}
		return Unknown
	}
	return byExt(strings.ToLower(filepath.Ext(entry)))
}

// IsSupported returns true if the entry is something the engine can play.
func IsSupported(entry string) bool {
	return Detect(entry) != Unknown
}

// IsRemote reports whether the entry is a URL rather than a local path.
func IsRemote(entry string) bool {
	_, ok := parseURL(entry)
	return ok
}

func byExt(ext string) Type {
	switch {
	case videoExts[ext]:
		return Video
	case imageExts[ext]:
		return Image
	case streamExts[ext]:
		return Stream
	}
	return Unknown
}

// parseURL accepts only absolute URLs with a host or a file scheme.
// Windows drive letters ("C:\...") parse as a one-letter scheme and are
// rejected here.
func parseURL(entry string) (*url.URL, bool) {
	if !strings.Contains(entry, "://") {
		return nil, false
	}
	u, err := url.Parse(entry)
	if err != nil || len(u.Scheme) < 2 {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Host == "" && u.Scheme != "file" {
		return nil, false
	}
	return u, true
}

// DefaultImageDuration is how long (in seconds) an image stays on screen
// when one lands in a slot.
const DefaultImageDuration = 10
