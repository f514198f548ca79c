package eml

import (
	"encoding/base64"
	"io"
)

// newBase64Reader decodes a base64 body, tolerating the line breaks mail
// transfer agents insert every 76 characters.
func newBase64Reader(r io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
}

type newlineStripper struct {
	r io.Reader
}

func (s *newlineStripper) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	n, err := s.r.Read(buf)
	out := 0
	for _, b := range buf[:n] {
		if b == '\n' || b == '\r' {
			continue
		}
		p[out] = b
		out++
	}
	if out == 0 && err == nil && n > 0 {
		// Chunk was all whitespace; report progress as zero bytes read
		// without signalling EOF.
		return 0, nil
	}
	return out, err
}
