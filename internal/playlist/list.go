package playlist

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"player-grid/internal/media"
)

// Snapshot is one shuffled view of the playlist. It is never modified
// after creation; the next cycle produces a new one.
type Snapshot struct {
	Seq       uint64
	URLs      []string
	CreatedAt time.Time
}

// At returns the entry at index i, or false when the snapshot is shorter.
func (s Snapshot) At(i int) (string, bool) {
	if i < 0 || i >= len(s.URLs) {
		return "", false
	}
	return s.URLs[i], true
}

// Shuffle returns a shuffled copy of urls. The input is left untouched.
func Shuffle(urls []string, rng *rand.Rand) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// LoadList reads a list file. Relative local paths are resolved against
// the file's directory.
func LoadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open list: %w", err)
	}
	defer f.Close()

	urls, err := ParseList(f)
	if err != nil {
		return nil, fmt.Errorf("parse list %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, u := range urls {
		if !media.IsRemote(u) && !filepath.IsAbs(u) {
			urls[i] = filepath.Join(base, u)
		}
	}
	return urls, nil
}

// ParseList reads one entry per line. Blank lines and lines starting with
// '#' (comments and M3U directives) are skipped, as is anything the engine
// cannot play.
func ParseList(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !media.IsSupported(line) {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// Dedupe drops repeated entries, keeping first occurrences in order.
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0:0]
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
