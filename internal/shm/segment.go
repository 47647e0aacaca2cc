package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
)

// Frame is one slot as seen by a reader.
//
// Data, Meta and Extra alias the mapping. They stay valid until the handle is
// closed or the writer reuses the slot; copy them out with Clone before
// holding on to them.
type Frame struct {
	Slot  int
	Data  []byte
	Meta  []byte
	Extra []byte
}

// Clone returns a copy of f that no longer aliases shared memory.
func (f Frame) Clone() Frame {
	return Frame{
		Slot:  f.Slot,
		Data:  cloneBytes(f.Data),
		Meta:  cloneBytes(f.Meta),
		Extra: cloneBytes(f.Extra),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// LatestSlot returns the slot holding the most recently completed frame for
// the given write index.
//
// writeIndex -1 means nothing was ever written (ErrNoData). Any other value
// outside [0, unitNum) is ErrCorrupt.
func LatestSlot(writeIndex int32, unitNum int) (int, error) {
	if unitNum < 1 {
		return 0, fmt.Errorf("unit_num %d: %w", unitNum, ErrCorrupt)
	}

	if writeIndex == -1 {
		return 0, ErrNoData
	}

	w := int(writeIndex)
	if w < 0 || w >= unitNum {
		return 0, fmt.Errorf("write_index %d outside [0,%d): %w", w, unitNum, ErrCorrupt)
	}

	return (w - 1 + unitNum) % unitNum, nil
}

// segment is a mapping plus the layout resolved for it.
//
// Index and mark fields are accessed with 32-bit atomics. The writer copies a
// payload first and publishes it with a release store of write_index; readers
// acquire-load write_index before touching slot bytes.
type segment struct {
	mem []byte
	l   layout.Layout
}

func (s *segment) field(off int) *int32 {
	return (*int32)(unsafe.Pointer(&s.mem[off]))
}

func (s *segment) load(off int) int32 {
	return atomic.LoadInt32(s.field(off))
}

func (s *segment) store(off int, v int32) {
	atomic.StoreInt32(s.field(off), v)
}

func (s *segment) writeIndex() int32 { return s.load(layout.OffWriteIndex) }
func (s *segment) readIndex() int32  { return s.load(layout.OffReadIndex) }

func (s *segment) mark() layout.Mark {
	return layout.Mark(s.load(s.l.Variant.MarkOffset()))
}

func (s *segment) setMark(m layout.Mark) {
	s.store(s.l.Variant.MarkOffset(), int32(m))
}

// resetIndices puts both indices back to the empty state.
func (s *segment) resetIndices() {
	s.store(layout.OffReadIndex, -1)
	s.store(layout.OffWriteIndex, -1)
}

// read returns the newest completed frame. Meta and Extra are filled only when
// the caller asks for them and the segment carries them.
func (s *segment) read(withMeta, withExtra bool) (Frame, error) {
	if s.mark() == layout.MarkTerminate {
		return Frame{}, ErrTerminated
	}

	w := s.writeIndex()

	slot, err := LatestSlot(w, s.l.UnitNum)
	if err != nil {
		return Frame{}, err
	}

	lenOff, err := s.l.LengthEntry(slot)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	n := int(s.load(lenOff))

	// A writer that overflowed on its first lap never stored the last slot,
	// so write_index 0 with an empty last slot means nothing is published.
	if n == 0 && w == 0 && slot == s.l.UnitNum-1 {
		return Frame{}, ErrNoData
	}

	if n <= 0 || n > s.l.UnitSize {
		return Frame{}, fmt.Errorf("slot %d length %d (unit_size %d): %w", slot, n, s.l.UnitSize, ErrSize)
	}

	off, _, err := s.l.DataSpan(slot)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	f := Frame{Slot: slot, Data: s.mem[off : off+n : off+n]}

	if withMeta && s.l.Variant == layout.SystemV && s.l.MetaSize > 0 {
		f.Meta, err = s.readMeta(slot)
		if err != nil {
			return Frame{}, err
		}
	}

	if withExtra {
		off, size, ok, err := s.l.ExtraSpan(slot)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		if ok && size > 0 {
			f.Extra = s.mem[off : off+size : off+size]
		}
	}

	return f, nil
}

func (s *segment) readMeta(slot int) ([]byte, error) {
	lenOff, err := s.l.MetaLengthEntry(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	m := int(s.load(lenOff))
	if m == 0 {
		return nil, nil
	}

	if m < 0 || m > s.l.MetaSize {
		return nil, fmt.Errorf("slot %d meta length %d (meta_size %d): %w", slot, m, s.l.MetaSize, ErrSize)
	}

	off, _, err := s.l.MetaSpan(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return s.mem[off : off+m : off+m], nil
}

// writeResult reports what a write did to the header.
type writeResult struct {
	slot         int
	overflow     bool
	resetPending bool
}

// write stores one frame. The caller must hold the writer lock.
//
// Validation happens before any shared byte changes. On the last slot the
// frame is dropped, write_index wraps to 0 and ErrOverflow is returned.
func (s *segment) write(data, meta, extra []byte) (writeResult, error) {
	if extra != nil {
		if !s.l.HasExtra || len(extra) != s.l.ExtraSize {
			return writeResult{}, fmt.Errorf("extra length %d, segment extra_size %d: %w",
				len(extra), s.extraSize(), ErrInvalidInput)
		}
	}

	if len(data) == 0 || len(data) > s.l.UnitSize {
		return writeResult{}, fmt.Errorf("frame length %d (unit_size %d): %w", len(data), s.l.UnitSize, ErrSize)
	}

	if s.mark() == layout.MarkTerminate {
		return writeResult{}, ErrTerminated
	}

	w := s.writeIndex()
	if w == -1 {
		w = 0
		s.store(layout.OffWriteIndex, 0)
	}

	if w < 0 || int(w) >= s.l.UnitNum {
		return writeResult{}, fmt.Errorf("write_index %d outside [0,%d): %w", w, s.l.UnitNum, ErrCorrupt)
	}

	slot := int(w)

	if slot == s.l.UnitNum-1 {
		s.store(layout.OffWriteIndex, 0)
		return writeResult{slot: slot, overflow: true}, ErrOverflow
	}

	lenOff, err := s.l.LengthEntry(slot)
	if err != nil {
		return writeResult{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	off, _, err := s.l.DataSpan(slot)
	if err != nil {
		return writeResult{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	copy(s.mem[off:off+len(data)], data)
	s.store(lenOff, int32(len(data)))

	if s.l.Variant == layout.SystemV && s.l.MetaSize > 0 {
		if err := s.writeMeta(slot, meta); err != nil {
			return writeResult{}, err
		}
	}

	if extra != nil {
		off, _, _, err := s.l.ExtraSpan(slot)
		if err != nil {
			return writeResult{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		copy(s.mem[off:off+len(extra)], extra)
	}

	res := writeResult{slot: slot}

	// RESET is left for the readers to act on.
	res.resetPending = s.mark() == layout.MarkReset

	s.store(layout.OffReadIndex, int32(slot))
	s.store(layout.OffWriteIndex, int32((slot+1)%s.l.UnitNum))

	return res, nil
}

// writeMeta stores meta when it is strictly shorter than meta_size.
// Anything else leaves the slot with no metadata.
func (s *segment) writeMeta(slot int, meta []byte) error {
	lenOff, err := s.l.MetaLengthEntry(slot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if len(meta) == 0 || len(meta) >= s.l.MetaSize {
		s.store(lenOff, 0)
		return nil
	}

	off, _, err := s.l.MetaSpan(slot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	copy(s.mem[off:off+len(meta)], meta)
	s.store(lenOff, int32(len(meta)))

	return nil
}

func (s *segment) extraSize() int {
	if !s.l.HasExtra {
		return 0
	}

	return s.l.ExtraSize
}
