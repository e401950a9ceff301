//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EVIOCGSW(8): read the current switch bitmask.
const eviocgsw8 = 0x8008451b

// pollTimeoutMS bounds how long a shutdown waits for epoll_wait to return.
const pollTimeoutMS = 250

// Reader multiplexes input devices with epoll and feeds a Handler.
type Reader struct {
	paths   []string
	handler *Handler
	logger  *slog.Logger
}

func NewReader(paths []string, handler *Handler, logger *slog.Logger) *Reader {
	return &Reader{paths: paths, handler: handler, logger: logger}
}

type device struct {
	fd   int
	path string
}

// Run opens every device, seeds the switch state and reads until ctx is
// canceled. A device that hangs up is dropped; Run fails once none are left.
func (r *Reader) Run(ctx context.Context) error {
	if len(r.paths) == 0 {
		return errors.New("no input devices configured")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	devices := make(map[int32]device, len(r.paths))
	defer func() {
		for _, d := range devices {
			unix.Close(d.fd)
		}
	}()

	var switches uint64
	for _, path := range r.paths {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		devices[int32(fd)] = device{fd: fd, path: path}

		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", path, err)
		}

		bits, err := querySwitches(fd)
		if err != nil {
			r.logger.Debug("device has no switches", "device", path, "error", err)
			continue
		}
		switches |= bits
	}
	r.handler.ApplySwitchState(switches, switches&(1<<swDock) != 0)
	r.logger.Info("input devices open", "devices", r.paths)

	events := make([]unix.EpollEvent, 32)
	buf := make([]byte, eventSize*64)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, events, pollTimeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			d, ok := devices[events[i].Fd]
			if !ok {
				continue
			}
			if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				r.drop(epfd, devices, d, "hangup")
				continue
			}
			if err := r.drain(d, buf); err != nil {
				r.drop(epfd, devices, d, err.Error())
			}
		}
		if len(devices) == 0 {
			return errors.New("all input devices gone")
		}
	}
}

// drain reads every complete event currently queued on d.
func (r *Reader) drain(d device, buf []byte) error {
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return errors.New("end of file")
		}
		for off := 0; off+eventSize <= n; off += eventSize {
			ev, err := decodeEvent(buf[off : off+eventSize])
			if err != nil {
				continue
			}
			r.handler.Handle(ev)
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (r *Reader) drop(epfd int, devices map[int32]device, d device, reason string) {
	r.logger.Warn("input device lost", "device", d.path, "reason", reason)
	_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, d.fd, nil)
	unix.Close(d.fd)
	delete(devices, int32(d.fd))
}

func querySwitches(fd int) (uint64, error) {
	var bits uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgsw8, uintptr(unsafe.Pointer(&bits)))
	if errno != 0 {
		return 0, errno
	}
	return bits, nil
}
