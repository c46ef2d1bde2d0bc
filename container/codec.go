package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/mv2db/mv2/frame"
)

// recordKind discriminates the on-disk record stream.
type recordKind uint8

const (
	recFrame  recordKind = 1 // a new immutable frame
	recStatus recordKind = 2 // a lifecycle transition of an existing frame
	recCommit recordKind = 3 // durability marker publishing everything before it
)

// maxRecordLen bounds a single record so a corrupted length prefix cannot
// drive a multi-gigabyte allocation during replay.
const maxRecordLen = 1 << 30

// Record framing: [kind u8][len u32][payload][crc32 u32], little-endian.
// The CRC covers kind and payload so a torn tail is detected during replay.
func writeRecord(w io.Writer, kind recordKind, payload []byte) error {
	if len(payload) > maxRecordLen {
		return fmt.Errorf("record too large: %d bytes", len(payload))
	}
	var hdr [5]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	crc := crc32.NewIEEE()
	_, _ = crc.Write(hdr[:1])
	_, _ = crc.Write(payload)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	_, err := w.Write(sum[:])
	return err
}

// errTornTail marks the end of the valid record stream during replay. It is
// never surfaced to callers: replay simply stops at the last commit marker.
var errTornTail = errors.New("torn record tail")

func readRecord(r io.Reader) (recordKind, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, errTornTail
		}
		return 0, nil, err
	}
	kind := recordKind(hdr[0])
	length := binary.LittleEndian.Uint32(hdr[1:5])
	if length > maxRecordLen {
		return 0, nil, errTornTail
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, errTornTail
	}
	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return 0, nil, errTornTail
	}
	crc := crc32.NewIEEE()
	_, _ = crc.Write(hdr[:1])
	_, _ = crc.Write(payload)
	if crc.Sum32() != binary.LittleEndian.Uint32(sum[:]) {
		return 0, nil, errTornTail
	}
	return kind, payload, nil
}

// frame payload flags
const (
	flagHasCanonicalLen = 1 << 0
	flagHasParent       = 1 << 1
	flagHasMetadata     = 1 << 2
	flagPayloadOmitted  = 1 << 3
)

func encodeFrame(f *frame.Frame) []byte {
	var b bytes.Buffer
	putU64(&b, f.ID)
	putU64(&b, f.SeqNo)
	putU64(&b, uint64(f.Timestamp))
	b.WriteByte(byte(f.Role))
	b.WriteByte(byte(f.Status))
	b.WriteByte(byte(f.Encoding))
	var flags byte
	if f.CanonicalLength > 0 {
		flags |= flagHasCanonicalLen
	}
	if f.ParentID != nil {
		flags |= flagHasParent
	}
	if f.Metadata != nil {
		flags |= flagHasMetadata
	}
	if f.Canonical == nil {
		flags |= flagPayloadOmitted
	}
	b.WriteByte(flags)
	if f.CanonicalLength > 0 {
		putU64(&b, f.CanonicalLength)
	}
	putU64(&b, f.PayloadLength)
	b.Write(f.Checksum[:])
	putString(&b, f.URI)
	putString(&b, f.Title)
	putString(&b, f.Kind)
	putString(&b, f.Track)
	putStrings(&b, f.Tags)
	putStrings(&b, f.Labels)
	putStringMap(&b, f.ExtraMetadata)
	putStrings(&b, f.ContentDates)
	if f.ParentID != nil {
		putU64(&b, *f.ParentID)
	}
	putU32(&b, f.ChunkIndex)
	putU32(&b, f.ChunkCount)
	putString(&b, f.SearchText)
	if f.Metadata != nil {
		putString(&b, f.Metadata.MimeType)
		putString(&b, f.Metadata.SourcePath)
		putU16(&b, uint16(len(f.Metadata.Entities)))
		for _, e := range f.Metadata.Entities {
			putString(&b, e.Name)
			putString(&b, e.Kind)
			if e.Confidence != nil {
				b.WriteByte(1)
				putU32(&b, math.Float32bits(*e.Confidence))
			} else {
				b.WriteByte(0)
			}
		}
	}
	putBytes(&b, f.Canonical)
	return b.Bytes()
}

func decodeFrame(payload []byte) (*frame.Frame, error) {
	r := &sliceReader{buf: payload}
	f := &frame.Frame{}
	f.ID = r.u64()
	f.SeqNo = r.u64()
	f.Timestamp = int64(r.u64())
	f.Role = frame.Role(r.u8())
	f.Status = frame.Status(r.u8())
	f.Encoding = frame.CanonicalEncoding(r.u8())
	flags := r.u8()
	if flags&flagHasCanonicalLen != 0 {
		f.CanonicalLength = r.u64()
	}
	f.PayloadLength = r.u64()
	copy(f.Checksum[:], r.bytesN(frame.ChecksumSize))
	f.URI = r.str()
	f.Title = r.str()
	f.Kind = r.str()
	f.Track = r.str()
	f.Tags = r.strs()
	f.Labels = r.strs()
	f.ExtraMetadata = r.strMap()
	f.ContentDates = r.strs()
	if flags&flagHasParent != 0 {
		id := r.u64()
		f.ParentID = &id
	}
	f.ChunkIndex = r.u32()
	f.ChunkCount = r.u32()
	f.SearchText = r.str()
	if flags&flagHasMetadata != 0 {
		md := &frame.DocMetadata{}
		md.MimeType = r.str()
		md.SourcePath = r.str()
		n := int(r.u16())
		for i := 0; i < n && r.err == nil; i++ {
			e := frame.Entity{Name: r.str(), Kind: r.str()}
			if r.u8() == 1 {
				c := math.Float32frombits(r.u32())
				e.Confidence = &c
			}
			md.Entities = append(md.Entities, e)
		}
		f.Metadata = md
	}
	canonical := r.bytes()
	if flags&flagPayloadOmitted == 0 {
		f.Canonical = canonical
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: frame record: %w", ErrCorrupt, r.err)
	}
	return f, nil
}

type statusRecord struct {
	Frame     uint64
	To        frame.Status
	SeqNo     uint64
	Timestamp int64
}

func encodeStatus(s statusRecord) []byte {
	var b bytes.Buffer
	putU64(&b, s.Frame)
	b.WriteByte(byte(s.To))
	putU64(&b, s.SeqNo)
	putU64(&b, uint64(s.Timestamp))
	return b.Bytes()
}

func decodeStatus(payload []byte) (statusRecord, error) {
	r := &sliceReader{buf: payload}
	s := statusRecord{
		Frame: r.u64(),
		To:    frame.Status(r.u8()),
	}
	s.SeqNo = r.u64()
	s.Timestamp = int64(r.u64())
	if r.err != nil {
		return statusRecord{}, fmt.Errorf("%w: status record: %w", ErrCorrupt, r.err)
	}
	return s, nil
}

type commitRecord struct {
	SeqNo     uint64
	Timestamp int64
	Ops       uint32
}

func encodeCommit(c commitRecord) []byte {
	var b bytes.Buffer
	putU64(&b, c.SeqNo)
	putU64(&b, uint64(c.Timestamp))
	putU32(&b, c.Ops)
	return b.Bytes()
}

func decodeCommit(payload []byte) (commitRecord, error) {
	r := &sliceReader{buf: payload}
	c := commitRecord{SeqNo: r.u64()}
	c.Timestamp = int64(r.u64())
	c.Ops = r.u32()
	if r.err != nil {
		return commitRecord{}, fmt.Errorf("%w: commit record: %w", ErrCorrupt, r.err)
	}
	return c, nil
}

// buffer write helpers (bytes.Buffer never errors)

func putU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func putU32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func putU64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func putString(b *bytes.Buffer, s string) {
	putU32(b, uint32(len(s)))
	b.WriteString(s)
}

func putBytes(b *bytes.Buffer, p []byte) {
	putU32(b, uint32(len(p)))
	b.Write(p)
}

func putStrings(b *bytes.Buffer, ss []string) {
	putU16(b, uint16(len(ss)))
	for _, s := range ss {
		putString(b, s)
	}
}

func putStringMap(b *bytes.Buffer, m map[string]string) {
	putU16(b, uint16(len(m)))
	for k, v := range m {
		putString(b, k)
		putString(b, v)
	}
}

// sliceReader decodes little-endian fields with sticky bounds checking.
type sliceReader struct {
	buf []byte
	off int
	err error
}

func (r *sliceReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) || n < 0 {
		r.err = errors.New("short buffer")
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *sliceReader) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *sliceReader) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *sliceReader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *sliceReader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *sliceReader) bytesN(n int) []byte {
	p := r.take(n)
	if p == nil {
		return make([]byte, n)
	}
	return p
}

func (r *sliceReader) str() string {
	n := int(r.u32())
	p := r.take(n)
	if p == nil {
		return ""
	}
	return string(p)
}

func (r *sliceReader) bytes() []byte {
	n := int(r.u32())
	p := r.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

func (r *sliceReader) strs() []string {
	n := int(r.u16())
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *sliceReader) strMap() map[string]string {
	n := int(r.u16())
	if n == 0 {
		return nil
	}
	out := make(map[string]string, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.str()
		out[k] = r.str()
	}
	return out
}
