//go:build unix

package ipclock

import (
	"io"
	"time"

	"golang.org/x/sys/unix"
)

const cellLen = 8

func (l *Lock) flockT(typ int16) unix.Flock_t {
	return unix.Flock_t{
		Type:   typ,
		Whence: int16(io.SeekStart),
		Start:  l.offset,
		Len:    cellLen,
	}
}

func (l *Lock) acquireOS(block bool, timeout time.Duration) (bool, error) {
	fl := l.flockT(unix.F_WRLCK)

	if block && timeout <= 0 {
		if err := unix.FcntlFlock(l.file.Fd(), unix.F_SETLKW, &fl); err != nil {
			return false, err
		}
		return true, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.FcntlFlock(l.file.Fd(), unix.F_SETLK, &fl)
		if err == nil {
			return true, nil
		}
		if err != unix.EAGAIN && err != unix.EACCES {
			return false, err
		}
		if !block && timeout <= 0 {
			return false, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (l *Lock) releaseOS() error {
	fl := l.flockT(unix.F_UNLCK)
	return unix.FcntlFlock(l.file.Fd(), unix.F_SETLK, &fl)
}
