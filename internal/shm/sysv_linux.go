//go:build linux && (amd64 || arm64 || riscv64 || loong64)

package shm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
)

var sysvLog = logger.For("SystemVShm")

// SystemV is an attachment to a keyed System-V segment and its companion
// semaphore. One process writes; any number read without locking.
type SystemV struct {
	mu    sync.Mutex
	opts  SysVOptions
	key   int
	shmID int
	sem   semaphore
	seg   *segment
}

// NewSystemV returns a detached handle. Zero option fields take defaults.
func NewSystemV(opts SysVOptions) *SystemV {
	return &SystemV{opts: opts.withDefaults(), key: -1, shmID: -1}
}

// Create probes keys from BaseKey to MaxKey, creates the first free one sized
// for unitCount slots of unitSize bytes (plus the configured meta and extra
// regions), and attaches to it. Returns the chosen key.
func (s *SystemV) Create(unitSize, unitCount int) (int, error) {
	return s.CreateWith(layout.Params{
		UnitSize:  unitSize,
		UnitNum:   unitCount,
		MetaSize:  s.opts.MetaSize,
		ExtraSize: s.opts.ExtraSize,
	})
}

// CreateWith is Create with every geometry field explicit.
func (s *SystemV) CreateWith(p layout.Params) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg != nil {
		return 0, fmt.Errorf("create on attached key %d: %w", s.key, ErrInvalidInput)
	}

	if p.UnitNum < 2 {
		return 0, fmt.Errorf("unit_num %d leaves no usable slot: %w", p.UnitNum, ErrInvalidInput)
	}

	size, err := layout.SegmentSize(layout.SystemV, p)
	if err != nil {
		return 0, layoutErr(false, err)
	}

	l, err := layout.Compute(layout.SystemV, p, size)
	if err != nil {
		return 0, layoutErr(false, err)
	}

	for key := s.opts.BaseKey; key <= s.opts.MaxKey; key++ {
		err := s.createAt(key, l)
		if err == nil {
			sysvLog.Infof("created key=%d size=%d unit_size=%d unit_num=%d meta=%d extra=%d",
				key, size, p.UnitSize, p.UnitNum, p.MetaSize, p.ExtraSize)

			return key, nil
		}

		if errors.Is(err, unix.EEXIST) {
			continue
		}

		sysvLog.Errorf("create key=%d: %v", key, err)

		return 0, err
	}

	sysvLog.Errorf("no free key in [%d,%d]", s.opts.BaseKey, s.opts.MaxKey)

	return 0, fmt.Errorf("keys [%d,%d]: %w", s.opts.BaseKey, s.opts.MaxKey, ErrKeysExhausted)
}

// createAt creates segment and semaphore for key. Anything acquired is
// released again on failure. EEXIST means the key is taken.
func (s *SystemV) createAt(key int, l layout.Layout) error {
	perm := int(s.opts.Perm & 0o777)

	shmID, err := unix.SysvShmGet(key, l.SegmentSize, unix.IPC_CREAT|unix.IPC_EXCL|perm)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return unix.EEXIST
		}

		return fmt.Errorf("shmget key %d size %d: %w", key, l.SegmentSize, err)
	}

	removeShm := func() {
		if _, err := unix.SysvShmCtl(shmID, unix.IPC_RMID, nil); err != nil {
			sysvLog.Warnf("remove segment id=%d: %v", shmID, err)
		}
	}

	sem, err := semCreate(key, s.opts.Perm)
	if err != nil {
		removeShm()

		if errors.Is(err, unix.EEXIST) {
			sysvLog.Warnf("key=%d: stale semaphore without segment, skipping", key)
			return unix.EEXIST
		}

		return fmt.Errorf("semget key %d: %w", key, err)
	}

	mem, err := unix.SysvShmAttach(shmID, 0, 0)
	if err != nil {
		_ = sem.remove()
		removeShm()

		return fmt.Errorf("shmat key %d: %w", key, err)
	}

	if len(mem) < l.SegmentSize {
		_ = unix.SysvShmDetach(mem)
		_ = sem.remove()
		removeShm()

		return fmt.Errorf("attached %d bytes, want %d: %w", len(mem), l.SegmentSize, ErrCorrupt)
	}

	mem = mem[:l.SegmentSize:l.SegmentSize]

	if err := layout.Init(l, mem); err != nil {
		_ = unix.SysvShmDetach(mem)
		_ = sem.remove()
		removeShm()

		return layoutErr(false, err)
	}

	s.key = key
	s.shmID = shmID
	s.sem = sem
	s.seg = &segment{mem: mem, l: l}

	return nil
}

// Open attaches to an existing key and its semaphore. Header fields are
// read, never initialized. Opening an attached handle is a no-op.
func (s *SystemV) Open(key int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg != nil {
		return nil
	}

	if key <= 0 {
		return fmt.Errorf("key %d: %w", key, ErrInvalidInput)
	}

	shmID, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		sysvLog.Errorf("shmget key=%d: %v", key, err)
		return fmt.Errorf("shmget key %d: %w", key, err)
	}

	sem, err := semOpen(key)
	if err != nil {
		sysvLog.Errorf("semget key=%d: %v", key, err)
		return fmt.Errorf("semget key %d: %w", key, err)
	}

	mem, err := unix.SysvShmAttach(shmID, 0, 0)
	if err != nil {
		sysvLog.Errorf("shmat key=%d: %v", key, err)
		return fmt.Errorf("shmat key %d: %w", key, err)
	}

	l, err := layout.Decode(layout.SystemV, mem)
	if err != nil {
		_ = unix.SysvShmDetach(mem)
		sysvLog.Errorf("key=%d: bad header: %v", key, err)

		return layoutErr(true, err)
	}

	s.key = key
	s.shmID = shmID
	s.sem = sem
	s.seg = &segment{mem: mem, l: l}

	sysvLog.Infof("attached key=%d size=%d unit_size=%d unit_num=%d meta=%d extra=%d",
		key, len(mem), l.UnitSize, l.UnitNum, l.MetaSize, l.ExtraSize)

	return nil
}

// Close detaches. The process that observes zero remaining attachments
// removes the semaphore and the segment. Closing a detached handle returns
// ErrClosed.
func (s *SystemV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return ErrClosed
	}

	key, shmID, sem := s.key, s.shmID, s.sem
	mem := s.seg.mem

	s.seg = nil
	s.key = -1
	s.shmID = -1

	if err := unix.SysvShmDetach(mem); err != nil {
		sysvLog.Errorf("shmdt key=%d: %v", key, err)
		return fmt.Errorf("shmdt key %d: %w", key, err)
	}

	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(shmID, unix.IPC_STAT, &desc); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EIDRM) {
			sysvLog.Infof("detached key=%d (already removed)", key)
			return nil
		}

		return fmt.Errorf("shmctl IPC_STAT key %d: %w", key, err)
	}

	if desc.Nattch > 0 {
		sysvLog.Infof("detached key=%d attachers=%d", key, desc.Nattch)
		return nil
	}

	var errs []error

	if err := sem.remove(); err != nil {
		errs = append(errs, fmt.Errorf("remove semaphore key %d: %w", key, err))
	}

	if _, err := unix.SysvShmCtl(shmID, unix.IPC_RMID, nil); err != nil &&
		!errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.EIDRM) {
		errs = append(errs, fmt.Errorf("remove segment key %d: %w", key, err))
	}

	sysvLog.Infof("detached key=%d, removed", key)

	return errors.Join(errs...)
}

// ReadData returns the newest completed frame. The slice aliases the mapping.
func (s *SystemV) ReadData() ([]byte, error) {
	f, err := s.ReadDataEx()
	if err != nil {
		return nil, err
	}

	return f.Data, nil
}

// ReadDataEx returns the newest frame with its metadata and extra bytes.
func (s *SystemV) ReadDataEx() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return Frame{}, ErrClosed
	}

	f, err := s.seg.read(true, true)
	if err != nil {
		return Frame{}, err
	}

	sysvLog.Debugf("read key=%d slot=%d len=%d meta=%d", s.key, f.Slot, len(f.Data), len(f.Meta))

	return f, nil
}

// WriteData publishes one frame without metadata or extra bytes.
func (s *SystemV) WriteData(data []byte) error {
	return s.WriteDataEx(data, nil, nil)
}

// WriteDataEx publishes one frame. meta is stored only when shorter than
// meta_size. extra, when non-nil, must be exactly extra_size bytes.
//
// Writing into the last slot drops the frame, wraps the ring and returns
// ErrOverflow; callers retry the frame or drop it.
func (s *SystemV) WriteDataEx(data, meta, extra []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return ErrClosed
	}

	if err := s.sem.lock(); err != nil {
		sysvLog.Errorf("key=%d: %v", s.key, err)
		return err
	}

	res, err := s.seg.write(data, meta, extra)

	if errors.Is(err, ErrOverflow) {
		if uerr := s.sem.resetAndUnlock(); uerr != nil {
			sysvLog.Errorf("key=%d: %v", s.key, uerr)
			return errors.Join(err, uerr)
		}

		sysvLog.Warnf("key=%d: overflow at slot %d, write_index reset to 0", s.key, res.slot)

		return fmt.Errorf("key %d slot %d: %w", s.key, res.slot, ErrOverflow)
	}

	if uerr := s.sem.unlock(); uerr != nil {
		sysvLog.Errorf("key=%d: %v", s.key, uerr)
		return errors.Join(err, uerr)
	}

	if err != nil {
		return fmt.Errorf("key %d: %w", s.key, err)
	}

	if res.resetPending {
		sysvLog.Warnf("key=%d: readers have not reset yet", s.key)
	}

	sysvLog.Debugf("write key=%d slot=%d len=%d", s.key, res.slot, len(data))

	return nil
}

// Reset asserts RESET and empties the ring under the writer lock.
func (s *SystemV) Reset() error {
	return s.locked(func(seg *segment) {
		seg.setMark(layout.MarkReset)
		seg.resetIndices()
	})
}

// Terminate asserts TERMINATE. Readers get ErrTerminated from then on.
func (s *SystemV) Terminate() error {
	return s.locked(func(seg *segment) {
		seg.setMark(layout.MarkTerminate)
	})
}

func (s *SystemV) locked(fn func(*segment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return ErrClosed
	}

	if err := s.sem.lock(); err != nil {
		return err
	}

	fn(s.seg)

	return s.sem.unlock()
}

// Key returns the attached key, or -1 when detached.
func (s *SystemV) Key() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.key
}

// Layout returns the resolved layout of the attached segment.
func (s *SystemV) Layout() (layout.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return layout.Layout{}, ErrClosed
	}

	return s.seg.l, nil
}

// Mark returns the current mark.
func (s *SystemV) Mark() (layout.Mark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return 0, ErrClosed
	}

	return s.seg.mark(), nil
}

// Indices returns write_index and read_index as currently stored.
func (s *SystemV) Indices() (write, read int32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg == nil {
		return 0, 0, ErrClosed
	}

	return s.seg.writeIndex(), s.seg.readIndex(), nil
}
