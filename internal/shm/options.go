package shm

// Key probe range and permissions for System-V Create.
const (
	DefaultBaseKey = 7010
	DefaultMaxKey  = 0xFFFF
	DefaultPerm    = 0o666
)

// SysVOptions configures a System-V handle. MetaSize and ExtraSize only
// matter for Create; Open takes them from the segment header.
type SysVOptions struct {
	BaseKey   int
	MaxKey    int
	Perm      uint32
	MetaSize  int
	ExtraSize int
}

func (o SysVOptions) withDefaults() SysVOptions {
	if o.BaseKey <= 0 {
		o.BaseKey = DefaultBaseKey
	}

	if o.MaxKey <= 0 {
		o.MaxKey = DefaultMaxKey
	}

	if o.Perm == 0 {
		o.Perm = DefaultPerm
	}

	return o
}
