//go:build linux

package shm

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/logger"
)

const shmDir = "/dev/shm"

var posixLog = logger.For("PosixShm")

// Posix is a read-only attachment to a segment published through a file
// descriptor. The segment is created and written by another process;
// readers must pair ReadData with a writer-progress notification.
type Posix struct {
	mu   sync.Mutex
	fd   int
	name string
	seg  *segment
}

// NewPosix returns a detached POSIX handle.
func NewPosix() *Posix {
	return &Posix{fd: -1}
}

// Open maps the segment behind fd. The handle takes ownership of fd and
// closes it on Close; on error fd stays with the caller. Opening an already
// open handle is a no-op.
func (p *Posix) Open(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg != nil {
		return nil
	}

	return p.attach(fd, "")
}

// OpenNamed opens /dev/shm/<name> and maps it. Close unlinks the object.
func (p *Posix) OpenNamed(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg != nil {
		return nil
	}

	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("shm object name %q: %w", name, ErrInvalidInput)
	}

	fd, err := unix.Open(filepath.Join(shmDir, name), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		posixLog.Errorf("open %s: %v", name, err)
		return fmt.Errorf("open shm object %q: %w", name, err)
	}

	if err := p.attach(fd, name); err != nil {
		_ = unix.Close(fd)
		return err
	}

	return nil
}

func (p *Posix) attach(fd int, name string) error {
	if fd < 0 {
		return fmt.Errorf("fd %d: %w", fd, ErrInvalidInput)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		posixLog.Errorf("fstat fd=%d: %v", fd, err)
		return fmt.Errorf("fstat fd %d: %w", fd, err)
	}

	if st.Size <= 0 {
		return fmt.Errorf("fd %d has size %d: %w", fd, st.Size, ErrInvalidInput)
	}

	if st.Size > layout.MaxSegmentSize {
		return fmt.Errorf("fd %d size %d exceeds max %d: %w", fd, st.Size, layout.MaxSegmentSize, ErrInvalidInput)
	}

	size := int(st.Size)

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if errors.Is(err, unix.EACCES) {
		// Read-only descriptors still map for reading.
		mem, err = unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	}

	if err != nil {
		posixLog.Errorf("mmap fd=%d size=%d: %v", fd, size, err)
		return fmt.Errorf("mmap fd %d: %w", fd, err)
	}

	l, err := layout.Decode(layout.POSIX, mem)
	if err != nil {
		_ = unix.Munmap(mem)
		posixLog.Errorf("fd=%d: bad header: %v", fd, err)

		return layoutErr(true, err)
	}

	p.fd = fd
	p.name = name
	p.seg = &segment{mem: mem, l: l}

	posixLog.Infof("attached fd=%d size=%d unit_size=%d unit_num=%d extra=%d",
		fd, size, l.UnitSize, l.UnitNum, l.ExtraSize)

	return nil
}

// Create is not supported: POSIX segments are created by the writer process.
func (p *Posix) Create(unitSize, unitCount int) (int, error) {
	return 0, fmt.Errorf("posix create: %w", ErrUnsupported)
}

// WriteData is not supported on a POSIX attachment.
func (p *Posix) WriteData(data []byte) error {
	return fmt.Errorf("posix write: %w", ErrUnsupported)
}

// ReadData returns the newest completed frame. The slice aliases the mapping.
func (p *Posix) ReadData() ([]byte, error) {
	f, err := p.read(false)
	if err != nil {
		return nil, err
	}

	return f.Data, nil
}

// ReadDataEx returns the newest frame with its extra bytes when the segment
// has an extra region.
func (p *Posix) ReadDataEx() (Frame, error) {
	return p.read(true)
}

func (p *Posix) read(withExtra bool) (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg == nil {
		return Frame{}, ErrClosed
	}

	f, err := p.seg.read(false, withExtra)
	if err != nil {
		return Frame{}, err
	}

	posixLog.Debugf("read slot=%d len=%d", f.Slot, len(f.Data))

	return f, nil
}

// Layout returns the resolved layout of the attached segment.
func (p *Posix) Layout() (layout.Layout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg == nil {
		return layout.Layout{}, ErrClosed
	}

	return p.seg.l, nil
}

// Mark returns the writer's current mark.
func (p *Posix) Mark() (layout.Mark, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg == nil {
		return 0, ErrClosed
	}

	return p.seg.mark(), nil
}

// Close unmaps the segment, unlinks it when it was opened by name, and
// closes the descriptor. Closing a detached handle returns ErrClosed.
func (p *Posix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seg == nil {
		return ErrClosed
	}

	var errs []error

	if err := unix.Munmap(p.seg.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}

	if p.name != "" {
		if err := unix.Unlink(filepath.Join(shmDir, p.name)); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, fmt.Errorf("unlink %s: %w", p.name, err))
		}
	}

	if err := unix.Close(p.fd); err != nil {
		errs = append(errs, fmt.Errorf("close fd %d: %w", p.fd, err))
	}

	posixLog.Infof("detached fd=%d", p.fd)

	p.seg = nil
	p.fd = -1
	p.name = ""

	return errors.Join(errs...)
}
