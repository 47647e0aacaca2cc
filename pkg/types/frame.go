package types

import (
	"fmt"
	"time"
)

// Frame is one frame copied out of a camera buffer
type Frame struct {
	Data      []byte    // Frame payload
	Meta      []byte    // Per-frame metadata (System-V only, may be nil)
	Extra     []byte    // Fixed-size side channel (may be nil)
	Slot      int       // Ring slot the frame was read from
	Seq       uint64    // Sequential number assigned by the reader
	Timestamp time.Time // Time the frame was copied out
}

// Size returns the total number of bytes carried by the frame
func (f *Frame) Size() int {
	return len(f.Data) + len(f.Meta) + len(f.Extra)
}

// Transport names a shared-memory transport
type Transport string

const (
	TransportPosix   Transport = "posix"
	TransportSystemV Transport = "systemv"
)

// ParseTransport accepts the transport names used on the command line
func ParseTransport(s string) (Transport, error) {
	switch s {
	case "posix", "posixshm":
		return TransportPosix, nil
	case "systemv", "sysv", "shmem":
		return TransportSystemV, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want posix or systemv)", s)
	}
}
