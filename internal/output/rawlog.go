package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RawLogMagic opens every raw frame log. Each record that follows is an
// 8-byte little-endian unix-nano receive time, a 4-byte payload length and
// the undecoded CBOR message.
const RawLogMagic = "AGRORAW1"

const maxRecordSize = 64 << 20

var ErrBadMagic = errors.New("not a raw frame log")

type RawLogWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(RawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{path: path, f: f, w: w}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

// Record appends one message. Frames are large, so the buffer is flushed per
// record rather than held until Close.
func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// RawLogReader walks the records of a raw frame log in write order.
type RawLogReader struct {
	r *bufio.Reader
}

func NewRawLogReader(src io.Reader) (*RawLogReader, error) {
	r := bufio.NewReaderSize(src, 1024*1024)
	magic := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != RawLogMagic {
		return nil, ErrBadMagic
	}
	return &RawLogReader{r: r}, nil
}

// Next returns the next record. It returns io.EOF after the last complete
// record and io.ErrUnexpectedEOF for a truncated one.
func (r *RawLogReader) Next() (time.Time, []byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return time.Time{}, nil, err
	}
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(header[:8])))
	size := binary.LittleEndian.Uint32(header[8:12])
	if size > maxRecordSize {
		return time.Time{}, nil, fmt.Errorf("record too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return time.Time{}, nil, err
	}
	return ts, payload, nil
}
