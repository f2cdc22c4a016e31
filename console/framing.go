package console

import (
	"bytes"
	"iter"
	"strconv"
)

// LineFramer turns byte chunks arriving at arbitrary boundaries into
// complete lines. It is not safe for concurrent use; each session owns one.
type LineFramer struct {
	max        int
	buf        []byte
	discarding bool // skipping the tail of an over-long line
}

// NewLineFramer creates a framer that buffers at most maxLen bytes of an
// unterminated line. A non-positive maxLen selects MaxLineLength.
func NewLineFramer(maxLen int) *LineFramer {
	if maxLen <= 0 {
		maxLen = MaxLineLength
	}
	return &LineFramer{max: maxLen}
}

// Feed consumes p and yields, in arrival order, every line completed by it
// (without the LF and without a trailing CR) and an over-long-line error
// for every line that exceeded the limit. The rest of an over-long line is
// skipped up to its terminator.
//
// The returned sequence must be ranged over to completion exactly once;
// stopping early drops the unprocessed part of p.
func (f *LineFramer) Feed(p []byte) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for len(p) > 0 {
			i := bytes.IndexByte(p, '\n')
			if i < 0 {
				if f.discarding {
					return
				}
				if contentLen(f.buf, p) > f.max {
					f.overflow()
					yield("", f.tooLong())
					return
				}
				f.buf = append(f.buf, p...)
				return
			}

			segment := p[:i]
			p = p[i+1:]

			if f.discarding {
				f.discarding = false
				continue
			}
			if contentLen(f.buf, segment) > f.max {
				f.buf = f.buf[:0]
				if !yield("", f.tooLong()) {
					return
				}
				continue
			}

			f.buf = append(f.buf, segment...)
			line := string(bytes.TrimSuffix(f.buf, []byte{'\r'}))
			f.buf = f.buf[:0]
			if !yield(line, nil) {
				return
			}
		}
	}
}

// Pending returns the number of buffered bytes of the current partial line.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// Reset drops any buffered partial line.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
	f.discarding = false
}

// contentLen is the length of buf+tail without a trailing CR, which does
// not count against the limit.
func contentLen(buf, tail []byte) int {
	n := len(buf) + len(tail)
	switch {
	case len(tail) > 0 && tail[len(tail)-1] == '\r':
		n--
	case len(tail) == 0 && len(buf) > 0 && buf[len(buf)-1] == '\r':
		n--
	}
	return n
}

func (f *LineFramer) overflow() {
	f.buf = f.buf[:0]
	f.discarding = true
}

func (f *LineFramer) tooLong() error {
	return &ProtocolError{Kind: ErrKindLineTooLong, Value: strconv.Itoa(f.max)}
}
