//go:build !linux || !(amd64 || arm64 || riscv64 || loong64)

package shm

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/camera-buffer/internal/layout"

// SystemV is unavailable on this platform; every operation returns
// ErrUnsupported.
type SystemV struct{}

func NewSystemV(SysVOptions) *SystemV { return &SystemV{} }

func (*SystemV) Create(int, int) (int, error) { return 0, ErrUnsupported }
func (*SystemV) CreateWith(layout.Params) (int, error) { return 0, ErrUnsupported }
func (*SystemV) Open(int) error { return ErrUnsupported }
func (*SystemV) Close() error { return ErrUnsupported }
func (*SystemV) ReadData() ([]byte, error) { return nil, ErrUnsupported }
func (*SystemV) ReadDataEx() (Frame, error) { return Frame{}, ErrUnsupported }
func (*SystemV) WriteData([]byte) error { return ErrUnsupported }
func (*SystemV) WriteDataEx(_, _, _ []byte) error { return ErrUnsupported }
func (*SystemV) Reset() error { return ErrUnsupported }
func (*SystemV) Terminate() error { return ErrUnsupported }
func (*SystemV) Key() int { return -1 }
func (*SystemV) Layout() (layout.Layout, error) { return layout.Layout{}, ErrUnsupported }
func (*SystemV) Mark() (layout.Mark, error) { return 0, ErrUnsupported }
func (*SystemV) Indices() (write, read int32, err error) { return 0, 0, ErrUnsupported }
