// Package audio provides the byte-producing origins a recognition session
// pulls audio from: replayed files and live captures.
package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source is a pull-based audio origin. Read fills p and returns the number
// of bytes read; a read of 0 bytes or io.EOF means the source is exhausted.
type Source interface {
	Read(p []byte) (int, error)
}

// FileSource replays audio from a file. When the file is a RIFF/WAVE
// container the header is skipped and only the data chunk is returned.
type FileSource struct {
	file      *os.File
	reader    io.Reader
	format    *WAVFormat
	remaining int64 // bytes left in the WAV data chunk, -1 for raw files
}

// WAVFormat is the fmt chunk of a WAV file
type WAVFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// OpenFile opens an audio file for replay
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	src := &FileSource{file: f, remaining: -1}
	br := bufio.NewReader(f)
	src.reader = br

	magic, err := br.Peek(12)
	if err == nil && bytes.Equal(magic[0:4], []byte("RIFF")) && bytes.Equal(magic[8:12], []byte("WAVE")) {
		if err := src.skipWAVHeader(br); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to parse WAV header of %s: %w", path, err)
		}
	}

	return src, nil
}

// skipWAVHeader walks the RIFF chunks up to the start of the data chunk
func (s *FileSource) skipWAVHeader(r *bufio.Reader) error {
	if _, err := r.Discard(12); err != nil {
		return err
	}

	for {
		var hdr struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return fmt.Errorf("missing data chunk: %w", err)
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			body := make([]byte, hdr.Size)
			if _, err := io.ReadFull(r, body); err != nil {
				return fmt.Errorf("truncated fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return errors.New("fmt chunk too short")
			}
			s.format = &WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				NumChannels:   binary.LittleEndian.Uint16(body[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			s.remaining = int64(hdr.Size)
			return nil
		default:
			// Chunks are word aligned
			skip := int(hdr.Size) + int(hdr.Size%2)
			if _, err := r.Discard(skip); err != nil {
				return fmt.Errorf("truncated %q chunk: %w", hdr.ID, err)
			}
		}
	}
}

// Format returns the WAV format, or nil for raw audio files
func (s *FileSource) Format() *WAVFormat {
	return s.format
}

// Read implements Source
func (s *FileSource) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if s.remaining > 0 && int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	n, err := s.reader.Read(p)
	if s.remaining > 0 {
		s.remaining -= int64(n)
	}
	return n, err
}

// Close closes the underlying file
func (s *FileSource) Close() error {
	return s.file.Close()
}
