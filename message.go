package socket

import (
	"github.com/pkg/errors"

	"github.com/rlansky/wiresock/internal/wire"
)

// HeaderSize is the fixed size, in bytes, of a message header: a 3-byte
// little-endian length field followed by a 1-byte type field.
const HeaderSize = wire.HeaderSize

// MaxPacketSize is the protocol-wide cap on a single message, header
// included (10 MiB).
const MaxPacketSize = wire.MaxPacketSize

// SeekOrigin selects the reference point for Message.Seek and
// Message.RawSeek.
type SeekOrigin int

const (
	// SeekBegin seeks relative to the start of the addressable region.
	SeekBegin SeekOrigin = iota
	// SeekCurrent seeks relative to the current cursor position.
	SeekCurrent
	// SeekEnd seeks relative to the end of the addressable region.
	SeekEnd
)

// Message is a fixed-capacity buffer carrying one protocol message. It
// exclusively owns its backing array and exposes two independent cursors
// over it: payloadCursor for user field I/O (always at or past the
// header) and rawCursor for the frame reader's byte-by-byte assembly
// (spans the whole buffer, header included).
//
// A Message is not safe for concurrent use; ownership passes from the
// frame reader to exactly one user callback at a time (see Pool and the
// auto-free policy of the frame package).
type Message struct {
	buf           []byte
	size          int
	payloadCursor int
	rawCursor     int
}

// NewMessage allocates a Message with capacity MaxPacketSize, zeroed,
// with the payload cursor at the start of the payload region and the
// raw cursor at 0.
func NewMessage() *Message {
	m := &Message{buf: make([]byte, MaxPacketSize)}
	m.SkipHeader()
	return m
}

// Reset zero-fills the buffer and returns both cursors and the size to
// their post-construction state.
func (m *Message) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.size = 0
	m.payloadCursor = 0
	m.rawCursor = 0
	m.SkipHeader()
}

// SkipHeader advances the payload cursor past the header if it has not
// already been, and ensures size accounts for at least the header.
func (m *Message) SkipHeader() {
	if m.payloadCursor < HeaderSize {
		m.payloadCursor = HeaderSize
	}
	if m.size < HeaderSize {
		m.size = HeaderSize
	}
}

// Capacity returns the fixed buffer capacity (MaxPacketSize).
func (m *Message) Capacity() int { return len(m.buf) }

// Size returns the current total byte count occupied, header included.
func (m *Message) Size() int { return m.size }

// MessageType returns the byte at header offset 3.
func (m *Message) MessageType() byte { return m.buf[3] }

// SetMessageType sets the byte at header offset 3.
func (m *Message) SetMessageType(t byte) { m.buf[3] = t }

// PacketSizeAccordingToHeader decodes the 24-bit little-endian length
// field at header offsets 0..2. It may differ from Size during assembly;
// after GetPacketMemory the two are equal.
func (m *Message) PacketSizeAccordingToHeader() int {
	return int(wire.Uint24(m.buf[0:3]))
}

// RawSyncFromHeader sets Size from the header's declared length. Used by
// the frame reader once the header bytes have been written.
func (m *Message) RawSyncFromHeader() {
	m.size = m.PacketSizeAccordingToHeader()
}

// payloadLen is the number of addressable payload bytes: Size minus the
// header.
func (m *Message) payloadLen() int {
	return m.size - HeaderSize
}

// Seek repositions the payload cursor relative to origin. SeekEnd maps to
// size-HeaderSize-1, landing on the last payload byte rather than one
// past it. Seeking to a negative
// target, or to a target at or past the payload length without landing on the
// (0,0) empty-payload case, fails with ErrOutOfRange. origin is typed
// SeekOrigin for the public, user-facing API; SeekOriginInt offers the
// same operation keyed by the plain-int constants the frame package
// uses internally.
func (m *Message) Seek(delta int, origin SeekOrigin) error {
	return m.seek(delta, origin)
}

// SeekOriginInt satisfies the frame package's Message interface, which
// cannot reference socket.SeekOrigin without an import cycle.
func (m *Message) SeekOriginInt(delta int, origin int) error {
	return m.seek(delta, SeekOrigin(origin))
}

func (m *Message) seek(delta int, origin SeekOrigin) error {
	var base int
	switch origin {
	case SeekBegin:
		base = HeaderSize
	case SeekCurrent:
		base = m.payloadCursor
	case SeekEnd:
		base = HeaderSize + m.payloadLen() - 1
	}

	target := base + delta
	rel := target - HeaderSize

	if rel < 0 {
		return errors.Wrapf(ErrOutOfRange, "seek target %d before payload start", rel)
	}
	if rel >= m.payloadLen() && !(rel == 0 && m.payloadLen() == 0) {
		return errors.Wrapf(ErrOutOfRange, "seek target %d at or past payload length %d", rel, m.payloadLen())
	}

	m.payloadCursor = target
	return nil
}

// RawSeek repositions the raw cursor relative to origin, over [0, Size).
// origin is a plain int with the same values as SeekOrigin (0=begin,
// 1=current, 2=end). RawSeek is not part of the frame package's Message
// interface and the frame reader does not call it: it relies on Reset
// returning the raw cursor to 0 before each new message.
func (m *Message) RawSeek(delta int, origin int) error {
	var base int
	switch SeekOrigin(origin) {
	case SeekBegin:
		base = 0
	case SeekCurrent:
		base = m.rawCursor
	case SeekEnd:
		base = m.size - 1
	}

	target := base + delta
	if target < 0 || target >= m.size {
		return errors.Wrapf(ErrOutOfRange, "raw seek target %d outside [0,%d)", target, m.size)
	}

	m.rawCursor = target
	return nil
}

// checkWriteOverflow reports whether writing n bytes at the payload
// cursor would exceed capacity. Per the spec's resolved ambiguity
// between source revisions, this checks against the cursor position,
// not the current size — size only ever grows up to the cursor.
func (m *Message) checkWriteOverflow(n int) error {
	if m.payloadCursor+n > len(m.buf) {
		return errors.Wrapf(ErrOverflow, "write of %d bytes at offset %d exceeds capacity %d", n, m.payloadCursor, len(m.buf))
	}
	return nil
}

func (m *Message) checkReadOverflow(n int) error {
	if m.payloadCursor+n > m.size {
		return errors.Wrapf(ErrOverflow, "read of %d bytes at offset %d exceeds size %d", n, m.payloadCursor, m.size)
	}
	return nil
}

func (m *Message) advanceWrite(n int) {
	m.payloadCursor += n
	if m.payloadCursor > m.size {
		m.size = m.payloadCursor
	}
}

// WriteU8 appends a uint8 at the payload cursor.
func (m *Message) WriteU8(v uint8) error {
	if err := m.checkWriteOverflow(1); err != nil {
		return err
	}
	m.buf[m.payloadCursor] = v
	m.advanceWrite(1)
	return nil
}

// WriteI8 appends an int8 at the payload cursor.
func (m *Message) WriteI8(v int8) error { return m.WriteU8(uint8(v)) }

// ReadU8 reads a uint8 at the payload cursor and advances past it.
func (m *Message) ReadU8() (uint8, error) {
	if err := m.checkReadOverflow(1); err != nil {
		return 0, err
	}
	v := m.buf[m.payloadCursor]
	m.payloadCursor++
	return v, nil
}

// ReadI8 reads an int8 at the payload cursor and advances past it.
func (m *Message) ReadI8() (int8, error) {
	v, err := m.ReadU8()
	return int8(v), err
}

// WriteU16 appends a little-endian uint16 at the payload cursor.
func (m *Message) WriteU16(v uint16) error {
	if err := m.checkWriteOverflow(2); err != nil {
		return err
	}
	wire.PutUint16(m.buf[m.payloadCursor:], v)
	m.advanceWrite(2)
	return nil
}

// WriteI16 appends a little-endian int16 at the payload cursor.
func (m *Message) WriteI16(v int16) error { return m.WriteU16(uint16(v)) }

// ReadU16 reads a little-endian uint16 at the payload cursor.
func (m *Message) ReadU16() (uint16, error) {
	if err := m.checkReadOverflow(2); err != nil {
		return 0, err
	}
	v := wire.Uint16(m.buf[m.payloadCursor:])
	m.payloadCursor += 2
	return v, nil
}

// ReadI16 reads a little-endian int16 at the payload cursor.
func (m *Message) ReadI16() (int16, error) {
	v, err := m.ReadU16()
	return int16(v), err
}

// WriteU24 appends a little-endian 24-bit unsigned integer (low 24 bits
// of v) at the payload cursor.
func (m *Message) WriteU24(v uint32) error {
	if err := m.checkWriteOverflow(3); err != nil {
		return err
	}
	wire.PutUint24(m.buf[m.payloadCursor:], v)
	m.advanceWrite(3)
	return nil
}

// WriteI24 appends a little-endian 24-bit integer at the payload cursor.
func (m *Message) WriteI24(v int32) error { return m.WriteU24(uint32(v) & 0xFFFFFF) }

// ReadU24 reads a little-endian 24-bit unsigned integer, zero-extended
// into 32 bits. No sign extension is applied for either accessor.
func (m *Message) ReadU24() (uint32, error) {
	if err := m.checkReadOverflow(3); err != nil {
		return 0, err
	}
	v := wire.Uint24(m.buf[m.payloadCursor:])
	m.payloadCursor += 3
	return v, nil
}

// ReadI24 reads a little-endian 24-bit integer, zero-extended like
// ReadU24 (documented behavior, not sign-extended).
func (m *Message) ReadI24() (int32, error) {
	v, err := m.ReadU24()
	return int32(v), err
}

// WriteU32 appends a little-endian uint32 at the payload cursor.
func (m *Message) WriteU32(v uint32) error {
	if err := m.checkWriteOverflow(4); err != nil {
		return err
	}
	wire.PutUint32(m.buf[m.payloadCursor:], v)
	m.advanceWrite(4)
	return nil
}

// WriteI32 appends a little-endian int32 at the payload cursor.
func (m *Message) WriteI32(v int32) error { return m.WriteU32(uint32(v)) }

// ReadU32 reads a little-endian uint32 at the payload cursor.
func (m *Message) ReadU32() (uint32, error) {
	if err := m.checkReadOverflow(4); err != nil {
		return 0, err
	}
	v := wire.Uint32(m.buf[m.payloadCursor:])
	m.payloadCursor += 4
	return v, nil
}

// ReadI32 reads a little-endian int32 at the payload cursor.
func (m *Message) ReadI32() (int32, error) {
	v, err := m.ReadU32()
	return int32(v), err
}

// WriteU64 appends a little-endian uint64 at the payload cursor.
func (m *Message) WriteU64(v uint64) error {
	if err := m.checkWriteOverflow(8); err != nil {
		return err
	}
	wire.PutUint64(m.buf[m.payloadCursor:], v)
	m.advanceWrite(8)
	return nil
}

// WriteI64 appends a little-endian int64 at the payload cursor.
func (m *Message) WriteI64(v int64) error { return m.WriteU64(uint64(v)) }

// ReadU64 reads a little-endian uint64 at the payload cursor.
func (m *Message) ReadU64() (uint64, error) {
	if err := m.checkReadOverflow(8); err != nil {
		return 0, err
	}
	v := wire.Uint64(m.buf[m.payloadCursor:])
	m.payloadCursor += 8
	return v, nil
}

// ReadI64 reads a little-endian int64 at the payload cursor.
func (m *Message) ReadI64() (int64, error) {
	v, err := m.ReadU64()
	return int64(v), err
}

// WriteF32 appends an IEEE-754 little-endian float32 at the payload
// cursor.
func (m *Message) WriteF32(v float32) error {
	if err := m.checkWriteOverflow(4); err != nil {
		return err
	}
	wire.PutFloat32(m.buf[m.payloadCursor:], v)
	m.advanceWrite(4)
	return nil
}

// ReadF32 reads an IEEE-754 little-endian float32 at the payload cursor.
func (m *Message) ReadF32() (float32, error) {
	if err := m.checkReadOverflow(4); err != nil {
		return 0, err
	}
	v := wire.Float32(m.buf[m.payloadCursor:])
	m.payloadCursor += 4
	return v, nil
}

// WriteF64 appends an IEEE-754 little-endian float64 at the payload
// cursor.
func (m *Message) WriteF64(v float64) error {
	if err := m.checkWriteOverflow(8); err != nil {
		return err
	}
	wire.PutFloat64(m.buf[m.payloadCursor:], v)
	m.advanceWrite(8)
	return nil
}

// ReadF64 reads an IEEE-754 little-endian float64 at the payload cursor.
func (m *Message) ReadF64() (float64, error) {
	if err := m.checkReadOverflow(8); err != nil {
		return 0, err
	}
	v := wire.Float64(m.buf[m.payloadCursor:])
	m.payloadCursor += 8
	return v, nil
}

// WriteBytes copies len(p) raw bytes at the payload cursor.
func (m *Message) WriteBytes(p []byte) error {
	if err := m.checkWriteOverflow(len(p)); err != nil {
		return err
	}
	copy(m.buf[m.payloadCursor:], p)
	m.advanceWrite(len(p))
	return nil
}

// ReadBytes reads n raw bytes at the payload cursor into a fresh slice.
func (m *Message) ReadBytes(n int) ([]byte, error) {
	if err := m.checkReadOverflow(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.buf[m.payloadCursor:m.payloadCursor+n])
	m.payloadCursor += n
	return out, nil
}

// WriteString encodes s as UTF-8, writes its byte length as a
// little-endian uint16, then the bytes themselves. s must encode to at
// most wire.MaxStringLen bytes.
func (m *Message) WriteString(s string) error {
	if len(s) > wire.MaxStringLen {
		return errors.Wrapf(ErrOverflow, "string of %d bytes exceeds max %d", len(s), wire.MaxStringLen)
	}
	if err := m.checkWriteOverflow(2 + len(s)); err != nil {
		return err
	}
	wire.PutUint16(m.buf[m.payloadCursor:], uint16(len(s)))
	m.payloadCursor += 2
	copy(m.buf[m.payloadCursor:], s)
	m.advanceWrite(len(s))
	return nil
}

// ReadString reads a uint16 byte-count prefix followed by that many
// UTF-8 bytes, returning the decoded string.
func (m *Message) ReadString() (string, error) {
	if err := m.checkReadOverflow(2); err != nil {
		return "", err
	}
	n := int(wire.Uint16(m.buf[m.payloadCursor:]))
	m.payloadCursor += 2
	if err := m.checkReadOverflow(n); err != nil {
		return "", err
	}
	s := string(m.buf[m.payloadCursor : m.payloadCursor+n])
	m.payloadCursor += n
	return s, nil
}

// RawWrite copies p at the raw cursor and advances it, growing Size to
// cover the write. Used exclusively by the frame reader while
// reassembling a message from the stream.
func (m *Message) RawWrite(p []byte) error {
	if m.rawCursor+len(p) > len(m.buf) {
		return errors.Wrapf(ErrOverflow, "raw write of %d bytes at offset %d exceeds capacity %d", len(p), m.rawCursor, len(m.buf))
	}
	copy(m.buf[m.rawCursor:], p)
	m.rawCursor += len(p)
	if m.rawCursor > m.size {
		m.size = m.rawCursor
	}
	return nil
}

// RawSize returns the raw cursor position, i.e. how many bytes of the
// current message have been laid down by the frame reader so far.
func (m *Message) RawSize() int { return m.rawCursor }

// GetPacketMemory patches the header's length field with the current
// Size and returns a read-only view of buf[0:Size], ready to be written
// to the transport.
func (m *Message) GetPacketMemory() []byte {
	wire.PutUint24(m.buf[0:3], uint32(m.size))
	return m.buf[:m.size:m.size]
}
