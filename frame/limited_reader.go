package frame

import (
	"bufio"
	"bytes"
	"io"
)

// Chunk size used to grow a body whose content-length is not yet backed by data.
const bodyChunkSize = 64 << 10

// limitedReader counts the bytes consumed from r since the last reset
// and fails with ErrFrameTooLarge once they exceed limit.
// A limit of 0 or less disables the check.
type limitedReader struct {
	r     *bufio.Reader
	limit int
	n     int
}

func (l *limitedReader) reset() { l.n = 0 }

func (l *limitedReader) consume(n int) error {
	if l.limit > 0 && n > l.limit-l.n {
		return ErrFrameTooLarge
	}
	l.n += n
	return nil
}

// readDelim reads up to and including delim.
func (l *limitedReader) readDelim(delim byte) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := l.r.ReadSlice(delim)
		if lerr := l.consume(len(chunk)); lerr != nil {
			return nil, lerr
		}
		buf = append(buf, chunk...)
		if err != bufio.ErrBufferFull {
			return buf, err
		}
	}
}

// readN reads exactly n bytes. Memory grows with the data received,
// not with n.
func (l *limitedReader) readN(n int) ([]byte, error) {
	err := l.consume(n)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(min(n, bodyChunkSize))
	_, err = io.CopyN(&buf, l.r, int64(n))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *limitedReader) readByte() (byte, error) {
	b, err := l.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return b, l.consume(1)
}
