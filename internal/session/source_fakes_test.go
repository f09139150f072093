package session

import (
	"errors"
	"io"
	"sync/atomic"
)

// bytesSource returns data in reads of at most limit bytes
type bytesSource struct {
	data  []byte
	limit int
}

func (s *bytesSource) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	if s.limit > 0 && len(p) > s.limit {
		p = p[:s.limit]
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// zeroReadSource signals exhaustion with a zero-byte read and no error
type zeroReadSource struct {
	data []byte
}

func (s *zeroReadSource) Read(p []byte) (int, error) {
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// failingSource returns good reads of data and then err
type failingSource struct {
	good int
	err  error
}

func (s *failingSource) Read(p []byte) (int, error) {
	if s.good == 0 {
		return 0, s.err
	}
	s.good--
	for i := range p {
		p[i] = 0x7f
	}
	return len(p), nil
}

// endlessSource never runs out and counts its reads
type endlessSource struct {
	reads atomic.Int64
}

func (s *endlessSource) Read(p []byte) (int, error) {
	s.reads.Add(1)
	for i := range p {
		p[i] = byte(i)
	}
	return len(p), nil
}

var errMicUnplugged = errors.New("capture device removed")
