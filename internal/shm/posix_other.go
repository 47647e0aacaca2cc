//go:build !linux

package shm

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"

// Posix is unavailable on this platform; every operation returns
// ErrUnsupported.
type Posix struct{}

func NewPosix() *Posix { return &Posix{} }

func (*Posix) Open(int) error { return ErrUnsupported }
func (*Posix) OpenNamed(string) error { return ErrUnsupported }
func (*Posix) Create(int, int) (int, error) { return 0, ErrUnsupported }
func (*Posix) WriteData([]byte) error { return ErrUnsupported }
func (*Posix) ReadData() ([]byte, error) { return nil, ErrUnsupported }
func (*Posix) ReadDataEx() (Frame, error) { return Frame{}, ErrUnsupported }
func (*Posix) Layout() (layout.Layout, error) { return layout.Layout{}, ErrUnsupported }
func (*Posix) Mark() (layout.Mark, error) { return 0, ErrUnsupported }
func (*Posix) Close() error { return ErrUnsupported }
