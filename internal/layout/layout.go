// Package layout computes where things live inside a camera buffer segment.
//
// A segment starts with a small header of signed 32-bit fields followed by
// per-slot arrays:
//
//	header                       20 bytes (POSIX) / 24 bytes (System-V)
//	length[unit_num]             int32 each
//	data[unit_num][unit_size]
//	meta_length[unit_num]        System-V only
//	meta[unit_num][meta_size]    System-V only
//	extra_size                   int32, optional
//	extra[unit_num][extra_size]  optional
//
// The extra region exists only when the segment is larger than everything
// before it. All integers use host byte order so that C writers on the same
// machine interoperate.
//
// Nothing here touches the OS. Every offset is computed with overflow checks:
// a value that does not fit is an error, never a wrapped or clamped offset.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Variant selects the header shape of a segment.
type Variant int

const (
	// POSIX is the fd-backed layout: no meta_size field, no metadata region.
	POSIX Variant = iota
	// SystemV is the keyed-segment layout with per-slot metadata.
	SystemV
)

func (v Variant) String() string {
	switch v {
	case POSIX:
		return "posix"
	case SystemV:
		return "systemv"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// FieldSize is the width of every header field and length entry.
const FieldSize = 4

// Header sizes per variant.
const (
	PosixHeaderSize   = 5 * FieldSize
	SystemVHeaderSize = 6 * FieldSize
)

// Header field offsets shared by both variants.
const (
	OffWriteIndex = 0x00
	OffReadIndex  = 0x04
	OffUnitSize   = 0x08
	OffMetaSize   = 0x0C // System-V only
)

// MaxSegmentSize bounds the segments this package will describe. It keeps
// every offset far away from the int range on 64-bit hosts.
const MaxSegmentSize = 1 << 36

// Mark values stored in the header.
type Mark int32

const (
	MarkNormal    Mark = 0
	MarkReset     Mark = 1
	MarkTerminate Mark = 2
)

func (m Mark) String() string {
	switch m {
	case MarkNormal:
		return "normal"
	case MarkReset:
		return "reset"
	case MarkTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("mark(%d)", int32(m))
	}
}

var (
	// ErrInvalid is returned for parameters that cannot describe a segment.
	ErrInvalid = errors.New("layout: invalid parameters")

	// ErrMismatch is returned when header values do not fit the segment
	// they were read from.
	ErrMismatch = errors.New("layout: header does not match segment")
)

// HeaderSize returns the header size for v.
func (v Variant) HeaderSize() int {
	if v == SystemV {
		return SystemVHeaderSize
	}

	return PosixHeaderSize
}

// UnitNumOffset returns the offset of the unit_num field for v.
func (v Variant) UnitNumOffset() int {
	if v == SystemV {
		return 0x10
	}

	return 0x0C
}

// MarkOffset returns the offset of the mark field for v.
func (v Variant) MarkOffset() int {
	if v == SystemV {
		return 0x14
	}

	return 0x10
}

// Params are the geometry values a writer chooses at creation.
type Params struct {
	UnitSize  int
	MetaSize  int
	UnitNum   int
	ExtraSize int
}

// Layout is the resolved set of offsets for one segment.
type Layout struct {
	Variant Variant
	Params

	HeaderSize       int
	LengthOffset     int
	DataOffset       int
	MetaLengthOffset int
	MetaDataOffset   int
	ExtraSizeOffset  int
	ExtraDataOffset  int

	// SegmentSize is the size of the mapping the layout describes.
	SegmentSize int

	// HasExtra reports whether the segment carries the extra region.
	HasExtra bool
}

func validateParams(v Variant, p Params) error {
	if v != POSIX && v != SystemV {
		return fmt.Errorf("unknown variant %d: %w", int(v), ErrInvalid)
	}

	if p.UnitSize < 1 || p.UnitSize > math.MaxInt32 {
		return fmt.Errorf("unit_size %d out of range: %w", p.UnitSize, ErrInvalid)
	}

	if p.UnitNum < 1 || p.UnitNum > math.MaxInt32 {
		return fmt.Errorf("unit_num %d out of range: %w", p.UnitNum, ErrInvalid)
	}

	if p.MetaSize < 0 || p.MetaSize > math.MaxInt32 {
		return fmt.Errorf("meta_size %d out of range: %w", p.MetaSize, ErrInvalid)
	}

	if v == POSIX && p.MetaSize != 0 {
		return fmt.Errorf("posix layout has no metadata region (meta_size %d): %w", p.MetaSize, ErrInvalid)
	}

	if p.ExtraSize < 0 || p.ExtraSize > math.MaxInt32 {
		return fmt.Errorf("extra_size %d out of range: %w", p.ExtraSize, ErrInvalid)
	}

	return nil
}

// base computes every offset up to and including ExtraDataOffset.
func base(v Variant, p Params) (Layout, error) {
	if err := validateParams(v, p); err != nil {
		return Layout{}, err
	}

	l := Layout{Variant: v, Params: p, HeaderSize: v.HeaderSize()}
	l.LengthOffset = l.HeaderSize

	lengths, err := mulChecked(FieldSize, p.UnitNum)
	if err != nil {
		return Layout{}, fmt.Errorf("length array: %w", err)
	}

	if l.DataOffset, err = addChecked(l.LengthOffset, lengths); err != nil {
		return Layout{}, fmt.Errorf("data offset: %w", err)
	}

	data, err := mulChecked(p.UnitSize, p.UnitNum)
	if err != nil {
		return Layout{}, fmt.Errorf("data region: %w", err)
	}

	end, err := addChecked(l.DataOffset, data)
	if err != nil {
		return Layout{}, fmt.Errorf("data end: %w", err)
	}

	if v == SystemV {
		l.MetaLengthOffset = end

		if l.MetaDataOffset, err = addChecked(l.MetaLengthOffset, lengths); err != nil {
			return Layout{}, fmt.Errorf("meta data offset: %w", err)
		}

		meta, err := mulChecked(p.MetaSize, p.UnitNum)
		if err != nil {
			return Layout{}, fmt.Errorf("meta region: %w", err)
		}

		if end, err = addChecked(l.MetaDataOffset, meta); err != nil {
			return Layout{}, fmt.Errorf("meta end: %w", err)
		}
	}

	l.ExtraSizeOffset = end

	if l.ExtraDataOffset, err = addChecked(l.ExtraSizeOffset, FieldSize); err != nil {
		return Layout{}, fmt.Errorf("extra data offset: %w", err)
	}

	return l, nil
}

// SegmentSize returns the number of bytes a writer must allocate for p.
// The extra region is allocated only when p.ExtraSize > 0.
func SegmentSize(v Variant, p Params) (int, error) {
	l, err := base(v, p)
	if err != nil {
		return 0, err
	}

	size := l.ExtraSizeOffset
	if p.ExtraSize > 0 {
		extra, err := mulChecked(p.ExtraSize, p.UnitNum)
		if err != nil {
			return 0, fmt.Errorf("extra region: %w", err)
		}

		if size, err = addChecked(l.ExtraDataOffset, extra); err != nil {
			return 0, fmt.Errorf("extra end: %w", err)
		}
	}

	if size > MaxSegmentSize {
		return 0, fmt.Errorf("segment size %d exceeds max %d: %w", size, MaxSegmentSize, ErrInvalid)
	}

	return size, nil
}

// Compute resolves the layout for p inside a segment of segmentSize bytes.
//
// The extra region is considered present only if segmentSize is larger than
// ExtraSizeOffset, and then p.ExtraSize must fit in what remains.
func Compute(v Variant, p Params, segmentSize int) (Layout, error) {
	l, err := base(v, p)
	if err != nil {
		return Layout{}, err
	}

	if segmentSize < l.ExtraSizeOffset {
		return Layout{}, fmt.Errorf("segment size %d smaller than regions (%d): %w",
			segmentSize, l.ExtraSizeOffset, ErrMismatch)
	}

	l.SegmentSize = segmentSize

	if segmentSize <= l.ExtraSizeOffset {
		l.ExtraSize = 0
		return l, nil
	}

	if segmentSize < l.ExtraDataOffset {
		return Layout{}, fmt.Errorf("segment size %d truncates extra_size field: %w", segmentSize, ErrMismatch)
	}

	extra, err := mulChecked(p.ExtraSize, p.UnitNum)
	if err != nil {
		return Layout{}, fmt.Errorf("extra region: %w", err)
	}

	end, err := addChecked(l.ExtraDataOffset, extra)
	if err != nil {
		return Layout{}, fmt.Errorf("extra end: %w", err)
	}

	if end > segmentSize {
		return Layout{}, fmt.Errorf("extra region ends at %d beyond segment size %d: %w", end, segmentSize, ErrMismatch)
	}

	l.HasExtra = true

	return l, nil
}

// Header is the decoded fixed header of a segment.
type Header struct {
	WriteIndex int32
	ReadIndex  int32
	UnitSize   int32
	MetaSize   int32
	UnitNum    int32
	Mark       Mark
}

// DecodeHeader reads the fixed header of a v segment from mem.
func DecodeHeader(v Variant, mem []byte) (Header, error) {
	if len(mem) < v.HeaderSize() {
		return Header{}, fmt.Errorf("segment of %d bytes shorter than %s header: %w", len(mem), v, ErrMismatch)
	}

	h := Header{
		WriteIndex: getInt32(mem, OffWriteIndex),
		ReadIndex:  getInt32(mem, OffReadIndex),
		UnitSize:   getInt32(mem, OffUnitSize),
		UnitNum:    getInt32(mem, v.UnitNumOffset()),
		Mark:       Mark(getInt32(mem, v.MarkOffset())),
	}

	if v == SystemV {
		h.MetaSize = getInt32(mem, OffMetaSize)
	}

	return h, nil
}

// Decode resolves the layout of an existing segment from its own bytes.
// The header is trusted only as far as it describes regions that fit in mem.
func Decode(v Variant, mem []byte) (Layout, error) {
	h, err := DecodeHeader(v, mem)
	if err != nil {
		return Layout{}, err
	}

	p := Params{
		UnitSize: int(h.UnitSize),
		MetaSize: int(h.MetaSize),
		UnitNum:  int(h.UnitNum),
	}

	l, err := base(v, p)
	if err != nil {
		return Layout{}, fmt.Errorf("header unit_size=%d meta_size=%d unit_num=%d: %w",
			h.UnitSize, h.MetaSize, h.UnitNum, errors.Join(ErrMismatch, err))
	}

	if len(mem) > l.ExtraSizeOffset && len(mem) >= l.ExtraDataOffset {
		extra := getInt32(mem, l.ExtraSizeOffset)
		if extra < 0 {
			return Layout{}, fmt.Errorf("negative extra_size %d: %w", extra, ErrMismatch)
		}

		p.ExtraSize = int(extra)
	}

	return Compute(v, p, len(mem))
}

// Init writes a fresh header for l into mem: geometry fields, both indices
// at -1, mark NORMAL and, when present, the extra_size scalar.
func Init(l Layout, mem []byte) error {
	if len(mem) < l.SegmentSize || l.SegmentSize < l.HeaderSize {
		return fmt.Errorf("mapping of %d bytes cannot hold layout of %d: %w", len(mem), l.SegmentSize, ErrMismatch)
	}

	putInt32(mem, OffWriteIndex, -1)
	putInt32(mem, OffReadIndex, -1)
	putInt32(mem, OffUnitSize, int32(l.UnitSize))
	putInt32(mem, l.Variant.UnitNumOffset(), int32(l.UnitNum))
	putInt32(mem, l.Variant.MarkOffset(), int32(MarkNormal))

	if l.Variant == SystemV {
		putInt32(mem, OffMetaSize, int32(l.MetaSize))
	}

	if l.HasExtra {
		putInt32(mem, l.ExtraSizeOffset, int32(l.ExtraSize))
	}

	return nil
}

func (l Layout) checkSlot(slot int) error {
	if slot < 0 || slot >= l.UnitNum {
		return fmt.Errorf("slot %d outside [0,%d): %w", slot, l.UnitNum, ErrInvalid)
	}

	return nil
}

func (l Layout) entry(base, slot int) (int, error) {
	if err := l.checkSlot(slot); err != nil {
		return 0, err
	}

	off, err := mulChecked(FieldSize, slot)
	if err != nil {
		return 0, err
	}

	return addChecked(base, off)
}

func (l Layout) span(base, size, slot int) (int, int, error) {
	if err := l.checkSlot(slot); err != nil {
		return 0, 0, err
	}

	off, err := mulChecked(size, slot)
	if err != nil {
		return 0, 0, err
	}

	off, err = addChecked(base, off)
	if err != nil {
		return 0, 0, err
	}

	return off, size, nil
}

// LengthEntry returns the offset of slot's frame length.
func (l Layout) LengthEntry(slot int) (int, error) {
	return l.entry(l.LengthOffset, slot)
}

// DataSpan returns the offset and capacity of slot's payload area.
func (l Layout) DataSpan(slot int) (int, int, error) {
	return l.span(l.DataOffset, l.UnitSize, slot)
}

// MetaLengthEntry returns the offset of slot's metadata length.
func (l Layout) MetaLengthEntry(slot int) (int, error) {
	if l.Variant != SystemV {
		return 0, fmt.Errorf("%s layout has no metadata: %w", l.Variant, ErrInvalid)
	}

	return l.entry(l.MetaLengthOffset, slot)
}

// MetaSpan returns the offset and capacity of slot's metadata area.
func (l Layout) MetaSpan(slot int) (int, int, error) {
	if l.Variant != SystemV {
		return 0, 0, fmt.Errorf("%s layout has no metadata: %w", l.Variant, ErrInvalid)
	}

	return l.span(l.MetaDataOffset, l.MetaSize, slot)
}

// ExtraSpan returns the offset and size of slot's extra area. ok is false
// when the segment has no extra region.
func (l Layout) ExtraSpan(slot int) (off, n int, ok bool, err error) {
	if !l.HasExtra {
		return 0, 0, false, nil
	}

	off, n, err = l.span(l.ExtraDataOffset, l.ExtraSize, slot)
	if err != nil {
		return 0, 0, false, err
	}

	return off, n, true, nil
}

// mulChecked multiplies two non-negative ints, failing instead of wrapping.
func mulChecked(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("negative operand %d*%d: %w", a, b, ErrInvalid)
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, fmt.Errorf("%d*%d overflows int: %w", a, b, ErrInvalid)
	}

	return int(lo), nil
}

// addChecked adds two non-negative ints, failing instead of wrapping.
func addChecked(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("negative operand %d+%d: %w", a, b, ErrInvalid)
	}

	if a > math.MaxInt-b {
		return 0, fmt.Errorf("%d+%d overflows int: %w", a, b, ErrInvalid)
	}

	return a + b, nil
}

func getInt32(mem []byte, off int) int32 {
	return int32(binary.NativeEndian.Uint32(mem[off : off+FieldSize]))
}

func putInt32(mem []byte, off int, v int32) {
	binary.NativeEndian.PutUint32(mem[off:off+FieldSize], uint32(v))
}

// GetInt32 reads a host-order int32 at off.
func GetInt32(mem []byte, off int) int32 { return getInt32(mem, off) }

// PutInt32 writes a host-order int32 at off.
func PutInt32(mem []byte, off int, v int32) { putInt32(mem, off, v) }
