package feed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

// DefaultMaxFrameSize bounds one frame; snapshot chunks stay well below
// this when the server batches sanely.
const DefaultMaxFrameSize = 64 << 20

// Serializer errors. Header-level failures poison the stream and abandon
// the connection; body-level failures are per-event and skippable.
var (
	ErrFrameTooLarge    = errors.New("feed: frame exceeds size limit")
	ErrChecksumMismatch = errors.New("feed: frame checksum mismatch")
	ErrBodyTruncated    = errors.New("feed: frame body truncated")
	ErrUnknownOp        = errors.New("feed: unknown opcode")
)

// FrameDecodeError reports a frame whose framing and checksum were intact
// but whose body could not be decoded, an unknown opcode included. The
// frame's bytes are fully consumed from the stream, so the caller may skip
// the frame and keep reading.
type FrameDecodeError struct {
	Op  Op
	Err error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("feed: undecodable %s frame: %v", e.Op, e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

// Frame layout: [length u32 BE][crc32 u32 BE][opcode u8][body]. The crc
// covers opcode and body; length counts crc, opcode and body.

// EncodeFrame serializes a frame to its full wire form.
func EncodeFrame(f *Frame) ([]byte, error) {
	body, err := encodeBody(f)
	if err != nil {
		return nil, err
	}

	crc := crc32.ChecksumIEEE(append([]byte{byte(f.Op)}, body...))
	length := uint32(4 + 1 + len(body))

	out := make([]byte, 0, 4+int(length))
	out = binary.BigEndian.AppendUint32(out, length)
	out = binary.BigEndian.AppendUint32(out, crc)
	out = append(out, byte(f.Op))
	out = append(out, body...)
	return out, nil
}

// WriteFrame encodes and writes one frame.
func WriteFrame(w io.Writer, f *Frame) error {
	out, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// ReadFrame reads and decodes one frame. Header and checksum failures are
// stream-poisoning; an undecodable body surfaces as a FrameDecodeError,
// which the caller may skip because the frame's bytes were fully read.
func ReadFrame(r io.Reader, maxFrame int) (*Frame, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < 5 {
		return nil, ErrBodyTruncated
	}
	if int(length) > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	wantCRC := binary.BigEndian.Uint32(buf[:4])
	op := buf[4]
	body := buf[5:]

	if crc32.ChecksumIEEE(buf[4:]) != wantCRC {
		return nil, ErrChecksumMismatch
	}

	f, err := decodeBody(Op(op), body)
	if err != nil {
		return nil, &FrameDecodeError{Op: Op(op), Err: err}
	}
	return f, nil
}

func encodeBody(f *Frame) ([]byte, error) {
	var b bytes.Buffer
	switch f.Op {
	case OpPing, OpPong:
		// Zero-length body.
	case OpGreeting:
		putString(&b, f.AppName)
		putString(&b, f.ClientID)
	case OpSubscribe, OpUnsubscribe, OpSnapshotDone:
		putString(&b, f.Table)
	case OpInitTable, OpUpdateRows:
		putString(&b, f.Table)
		putRows(&b, f.Rows)
	case OpSnapshotChunk:
		putString(&b, f.Table)
		putString(&b, f.Partition)
		putRows(&b, f.Rows)
	case OpDeleteRows:
		putString(&b, f.Table)
		putUint32(&b, uint32(len(f.Keys)))
		for _, k := range f.Keys {
			putString(&b, k.PartitionKey)
			putString(&b, k.RowKey)
		}
	case OpError:
		putString(&b, f.Message)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, f.Op)
	}
	return b.Bytes(), nil
}

func decodeBody(op Op, body []byte) (*Frame, error) {
	f := &Frame{Op: op}
	r := &bodyReader{buf: body}

	var err error
	switch op {
	case OpPing, OpPong:
		// Zero-length body.
	case OpGreeting:
		f.AppName, err = r.string()
		if err == nil {
			f.ClientID, err = r.string()
		}
	case OpSubscribe, OpUnsubscribe, OpSnapshotDone:
		f.Table, err = r.string()
	case OpInitTable, OpUpdateRows:
		if f.Table, err = r.string(); err == nil {
			f.Rows, err = r.rows()
		}
	case OpSnapshotChunk:
		if f.Table, err = r.string(); err == nil {
			if f.Partition, err = r.string(); err == nil {
				f.Rows, err = r.rows()
			}
		}
	case OpDeleteRows:
		if f.Table, err = r.string(); err == nil {
			var n uint32
			if n, err = r.uint32(); err == nil {
				f.Keys = make([]RowIdent, 0, n)
				for i := uint32(0); i < n && err == nil; i++ {
					var k RowIdent
					if k.PartitionKey, err = r.string(); err == nil {
						if k.RowKey, err = r.string(); err == nil {
							f.Keys = append(f.Keys, k)
						}
					}
				}
			}
		}
	case OpError:
		f.Message, err = r.string()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}

	if err != nil {
		return nil, err
	}
	return f, nil
}

// ============================================================================
// Body primitives: strings and byte blocks are u32 BE length-prefixed,
// row lists are u32 BE count-prefixed.
// ============================================================================

func putUint32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func putInt64(b *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.Write(tmp[:])
}

func putString(b *bytes.Buffer, s string) {
	putUint32(b, uint32(len(s)))
	b.WriteString(s)
}

func putBytes(b *bytes.Buffer, p []byte) {
	putUint32(b, uint32(len(p)))
	b.Write(p)
}

func putRows(b *bytes.Buffer, rows []*domain.RowRecord) {
	putUint32(b, uint32(len(rows)))
	for _, r := range rows {
		putString(b, r.PartitionKey)
		putString(b, r.RowKey)
		putInt64(b, r.TimeStamp)
		putInt64(b, r.ExpiresAt)
		putBytes(b, r.Payload)
	}
}

type bodyReader struct {
	buf []byte
	off int
}

func (r *bodyReader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrBodyTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *bodyReader) int64() (int64, error) {
	if r.off+8 > len(r.buf) {
		return 0, ErrBodyTruncated
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *bodyReader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *bodyReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.buf) {
		return nil, ErrBodyTruncated
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *bodyReader) rows() ([]*domain.RowRecord, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	rows := make([]*domain.RowRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		rec := &domain.RowRecord{}
		if rec.PartitionKey, err = r.string(); err != nil {
			return nil, err
		}
		if rec.RowKey, err = r.string(); err != nil {
			return nil, err
		}
		if rec.TimeStamp, err = r.int64(); err != nil {
			return nil, err
		}
		if rec.ExpiresAt, err = r.int64(); err != nil {
			return nil, err
		}
		if rec.Payload, err = r.bytes(); err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
