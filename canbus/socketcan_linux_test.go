//go:build linux

package canbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

// socketPair stands in for a raw CAN socket: both move whole 16-byte
// datagrams.
func socketPair(t *testing.T) (*socketCAN, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	assert.NilError(t, err)
	assert.NilError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[1]) })
	return &socketCAN{fd: fds[0]}, fds[1]
}

func TestSocketCAN_SendReceive(t *testing.T) {
	s, peer := socketPair(t)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := NewExtended(0x0305, []byte{0, 0, 0x13, 0x88})
	assert.NilError(t, err)
	assert.NilError(t, s.Send(ctx, out))
	buf := make([]byte, 32)
	n, err := unix.Read(peer, buf)
	assert.NilError(t, err)
	var echoed Frame
	assert.NilError(t, echoed.UnmarshalBinary(buf[:n]))
	assert.Equal(t, echoed, out)

	in := MustFrame(0x0905, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	raw, err := in.MarshalBinary()
	assert.NilError(t, err)
	_, err = unix.Write(peer, raw)
	assert.NilError(t, err)
	got, err := s.Receive(ctx)
	assert.NilError(t, err)
	assert.Equal(t, got, in)
}

func TestSocketCAN_ReceiveTimeout(t *testing.T) {
	s, _ := socketPair(t)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSocketCAN_CloseDuringIO(t *testing.T) {
	s, _ := socketPair(t)
	ctx := context.Background()

	recvDone := make(chan error, 1)
	go func() {
		_, err := s.Receive(ctx)
		recvDone <- err
	}()

	// Senders racing Close either get through or see ErrClosed; none touch
	// a released descriptor.
	var wg sync.WaitGroup
	errs := make(chan error, 8*50)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
				errs <- s.Send(sctx, MustFrame(0x10, []byte{byte(j)}))
				cancel()
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	assert.NilError(t, s.Close())
	wg.Wait()
	close(errs)
	for err := range errs {
		if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case err := <-recvDone:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}

	assert.ErrorIs(t, s.Send(ctx, MustFrame(0x10, nil)), ErrClosed)
	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NilError(t, s.Close())
}
