//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// idlePoll bounds a single poll(2).
const idlePoll = 50 * time.Millisecond

// socketCAN implements Bus over a Linux raw CAN socket. Every syscall on fd
// runs under a read lock so Close cannot release the descriptor, and the
// kernel cannot hand the number to another socket, while one is in flight.
type socketCAN struct {
	mu sync.RWMutex
	fd int // -1 once closed
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g., "can0"). The interface must exist and be up.
func DialSocketCAN(iface string) (Bus, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: %s: %w", iface, err)
	}
	if up, err := IsInterfaceUp(iface); err == nil && !up {
		return nil, fmt.Errorf("canbus: interface %s is down", iface)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", iface, err)
	}
	// Non-blocking so that every wait goes through poll(2) and honours ctx.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &socketCAN{fd: fd}, nil
}

// withFD runs fn with the descriptor held open.
func (s *socketCAN) withFD(fn func(fd int) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fd < 0 {
		return ErrClosed
	}
	return fn(s.fd)
}

func (s *socketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		var n int
		err := s.withFD(func(fd int) (werr error) {
			n, werr = unix.Write(fd, buf)
			return werr
		})
		switch {
		case err == nil && n != len(buf):
			return errors.New("canbus: short write")
		case err == nil:
			return nil
		case err == unix.EAGAIN || err == unix.ENOBUFS:
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// Receive reads one frame, waiting until one arrives or ctx is done.
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, frameSize)
	for {
		var n int
		err := s.withFD(func(fd int) (rerr error) {
			n, rerr = unix.Read(fd, buf)
			return rerr
		})
		switch {
		case err == nil && n != len(buf):
			return Frame{}, errors.New("canbus: short read")
		case err == nil:
			var f Frame
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		case err == unix.EAGAIN:
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
		default:
			return Frame{}, err
		}
	}
}

// wait polls the socket for events until ready or ctx is done. A single
// poll(2) never exceeds idlePoll, which bounds how long Close can be held off.
func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		timeout := idlePoll
		if deadline, ok := ctx.Deadline(); ok {
			left := time.Until(deadline)
			if left <= 0 {
				return context.DeadlineExceeded
			}
			timeout = min(timeout, left)
		}
		var n int
		err := s.withFD(func(fd int) (perr error) {
			fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
			n, perr = unix.Poll(fds, int(timeout/time.Millisecond)+1)
			return perr
		})
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}
