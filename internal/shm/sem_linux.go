//go:build linux && (amd64 || arm64 || riscv64 || loong64)

package shm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semctl commands and semop flags from <sys/sem.h>. x/sys/unix exposes the
// syscall numbers but not these.
const (
	semGetVal = 12
	semSetVal = 16
	semUndo   = 0x1000
)

// sembuf mirrors struct sembuf.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// semaphore is a single System-V semaphore used as the writer mutex.
// Value 1 is unlocked, 0 is locked.
type semaphore struct {
	id int
}

func semGet(key, flags int) (semaphore, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), 1, uintptr(flags))
	if errno != 0 {
		return semaphore{}, errno
	}

	return semaphore{id: int(id)}, nil
}

// semCreate creates the semaphore for key exclusively and sets it unlocked.
func semCreate(key int, perm uint32) (semaphore, error) {
	s, err := semGet(key, unix.IPC_CREAT|unix.IPC_EXCL|int(perm&0o777))
	if err != nil {
		return semaphore{}, err
	}

	if err := s.setVal(1); err != nil {
		_ = s.remove()
		return semaphore{}, err
	}

	return s, nil
}

func semOpen(key int) (semaphore, error) {
	return semGet(key, 0)
}

func (s semaphore) op(delta int16, flags int16) error {
	b := sembuf{num: 0, op: delta, flg: flags}

	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.id), uintptr(unsafe.Pointer(&b)), 1)
		if errno == 0 {
			return nil
		}

		if errno != unix.EINTR {
			return errno
		}
	}
}

// lock blocks until the semaphore is taken. SEM_UNDO releases it if the
// process dies while holding it.
func (s semaphore) lock() error {
	if err := s.op(-1, semUndo); err != nil {
		return fmt.Errorf("semop lock: %w", err)
	}

	return nil
}

func (s semaphore) unlock() error {
	if err := s.op(1, semUndo); err != nil {
		return fmt.Errorf("semop unlock: %w", err)
	}

	return nil
}

// resetAndUnlock zeroes the count, which also clears every process's undo
// adjustment, then releases without undo so the value ends at 1.
func (s semaphore) resetAndUnlock() error {
	if err := s.setVal(0); err != nil {
		return errors.Join(fmt.Errorf("semctl reset: %w", err), s.unlock())
	}

	if err := s.op(1, 0); err != nil {
		return fmt.Errorf("semop release after reset: %w", err)
	}

	return nil
}

func (s semaphore) setVal(v int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, semSetVal, uintptr(v), 0, 0)
	if errno != 0 {
		return errno
	}

	return nil
}

func (s semaphore) value() (int, error) {
	v, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, semGetVal, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}

	return int(v), nil
}

func (s semaphore) remove() error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, unix.IPC_RMID, 0, 0, 0)
	if errno != 0 && errno != unix.EINVAL && errno != unix.EIDRM {
		return errno
	}

	return nil
}
