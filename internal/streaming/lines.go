// ABOUTME: Line reader for server-sent event bodies that survives oversized lines
// ABOUTME: A line past the size cap is discarded whole and the stream keeps going

package streaming

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// lineReader yields lines without their terminator. Lines longer than max
// bytes are skipped instead of failing the read.
type lineReader struct {
	r   *bufio.Reader
	buf []byte
	max int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64<<10), max: max}
}

// next returns the next line. When the line exceeded the cap, the line is
// empty and the second result holds its length in bytes. A final
// unterminated line is returned before io.EOF.
func (lr *lineReader) next() (string, int, error) {
	lr.buf = lr.buf[:0]
	dropped := 0
	for {
		b, err := lr.r.ReadSlice('\n')
		switch {
		case dropped > 0:
			dropped += len(b)
		case len(lr.buf)+len(b) > lr.max:
			dropped = len(lr.buf) + len(b)
			lr.buf = lr.buf[:0]
		default:
			lr.buf = append(lr.buf, b...)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			partial := len(lr.buf) > 0 || dropped > 0
			if !errors.Is(err, io.EOF) || !partial {
				return "", 0, err
			}
		}
		if dropped > 0 {
			return "", dropped, nil
		}
		return strings.TrimRight(string(lr.buf), "\r\n"), 0, nil
	}
}
