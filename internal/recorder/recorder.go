// Package recorder writes a session to disk: raw observations, commands and
// agent replies, one CBOR record per entry.
//
// File layout: an 8 byte magic, then records of
//
//	ts uint64 LE | size uint32 LE | CBOR entry
//
// With compression the record stream after the magic is a single zstd
// stream.
package recorder

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

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	magicPlain = "OPTREC01"
	magicZstd  = "OPTRECZ1"
	headerSize = 12
	// maxRecord guards the reader against corrupt size fields.
	maxRecord = 256 << 20
)

type Kind string

const (
	KindObservation Kind = "observation"
	KindCommand     Kind = "command"
	KindReply       Kind = "reply"
	KindReset       Kind = "reset"
	KindControl     Kind = "control"
)

type Entry struct {
	Kind        Kind   `cbor:"kind"`
	ID          string `cbor:"id,omitempty"`
	Task        string `cbor:"task,omitempty"`
	Text        string `cbor:"text,omitempty"`
	Observation []byte `cbor:"observation,omitempty"`
	Err         string `cbor:"err,omitempty"`
}

// Recorder is what producers depend on. A nil Recorder records nothing.
type Recorder interface {
	Record(Entry) error
}

var ErrClosed = errors.New("recorder is closed")

type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	zw   *zstd.Encoder
	// sink is zw when compressing, w otherwise.
	sink io.Writer
	now  func() time.Time
}

func NewWriter(dir, prefix string, compress bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	ext := ".rec"
	if compress {
		ext = ".rec.zst"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s%s", timestamp, prefix, ext))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(f, 1024*1024)
	magic := magicPlain
	if compress {
		magic = magicZstd
	}
	if _, err := w.WriteString(magic); err != nil {
		_ = f.Close()
		return nil, err
	}

	rw := &Writer{path: path, f: f, w: w, sink: w, now: time.Now}
	if compress {
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		rw.zw = zw
		rw.sink = zw
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return rw, nil
}

func (r *Writer) Path() string {
	return r.path
}

func (r *Writer) Record(entry Entry) error {
	payload, err := cbor.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrClosed
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(r.now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.sink.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.sink.Write(payload); err != nil {
		return err
	}
	if r.zw != nil {
		if err := r.zw.Flush(); err != nil {
			return err
		}
	}
	return r.w.Flush()
}

func (r *Writer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	var errs []error
	if r.zw != nil {
		errs = append(errs, r.zw.Close())
	}
	errs = append(errs, r.w.Flush(), r.f.Close())
	r.w = nil
	return errors.Join(errs...)
}

// Record is a decoded entry with its capture time.
type Record struct {
	Time  time.Time
	Size  int
	Entry Entry
	// Raw is the undecoded CBOR payload.
	Raw []byte
}

type Reader struct {
	f  *os.File
	r  io.Reader
	zr *zstd.Decoder
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic := make([]byte, len(magicPlain))
	if _, err := io.ReadFull(br, magic); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read magic: %w", err)
	}

	reader := &Reader{f: f, r: br}
	switch string(magic) {
	case magicPlain:
	case magicZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		reader.zr = zr
		reader.r = zr
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unexpected recording magic %q", string(magic))
	}
	return reader, nil
}

// Next returns io.EOF after the last complete record. A truncated tail is
// treated as the end of the recording.
func (r *Reader) Next() (Record, error) {
	var meta [headerSize]byte
	if _, err := io.ReadFull(r.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(meta[:8]))
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size > maxRecord {
		return Record{}, fmt.Errorf("record size %d exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}

	rec := Record{Time: time.Unix(0, ts), Size: int(size), Raw: payload}
	if err := cbor.Unmarshal(payload, &rec.Entry); err != nil {
		return rec, fmt.Errorf("decode entry: %w", err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.f.Close()
}

// NormalizeJSONValue rewrites CBOR-decoded values (map[any]any, byte
// strings) into shapes encoding/json can marshal.
func NormalizeJSONValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(val))
	default:
		return val
	}
}
