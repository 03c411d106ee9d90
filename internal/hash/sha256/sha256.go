// Package sha256 fingerprints page bodies so discovery can drop duplicates
// served under different URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests of page bodies. Runs of ASCII whitespace
// are folded to one space and leading or trailing whitespace is ignored, so
// re-indented copies of a page share a digest.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum hashes the folded input and returns a hex digest.
func (h *Hasher) Sum(data []byte) string {
	d := sha256.New()
	buf := make([]byte, 0, 4096)
	started, gap := false, false
	for _, b := range data {
		if isSpace(b) {
			gap = started
			continue
		}
		if gap {
			buf = append(buf, ' ')
			gap = false
		}
		buf = append(buf, b)
		started = true
		if len(buf) >= cap(buf)-1 {
			d.Write(buf)
			buf = buf[:0]
		}
	}
	d.Write(buf)
	return hex.EncodeToString(d.Sum(nil))
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
