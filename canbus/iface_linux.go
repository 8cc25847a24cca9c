//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Linux network interface helpers. Changing flags or bitrate requires
// CAP_NET_ADMIN; without it the calls fail with EPERM.

const ifNameSize = unix.IFNAMSIZ

func interfaceFlags(name string) (uint16, error) {
	if len(name) == 0 || len(name) >= ifNameSize {
		return 0, fmt.Errorf("canbus: invalid interface name %q", name)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return ifr.Uint16(), nil
}

func setInterfaceFlags(name string, flags uint16) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	ifr.SetUint16(flags)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := interfaceFlags(name)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// SetInterfaceUp sets IFF_UP on the given interface.
func SetInterfaceUp(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	return requireCapNetAdmin(setInterfaceFlags(name, flags|unix.IFF_UP))
}

// SetInterfaceDown clears IFF_UP on the given interface.
func SetInterfaceDown(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP == 0 {
		return nil
	}
	return requireCapNetAdmin(setInterfaceFlags(name, flags&^unix.IFF_UP))
}

func requireCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("canbus: operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// SetBitrate takes the interface down, sets the arbitration bitrate through
// iproute2 and brings it back up.
func SetBitrate(name string, bitrate uint32) error {
	if err := SetInterfaceDown(name); err != nil {
		return err
	}
	out, err := exec.Command("ip", "link", "set", "dev", name, "type", "can",
		"bitrate", fmt.Sprintf("%d", bitrate)).CombinedOutput()
	if err != nil {
		return requireCapNetAdmin(fmt.Errorf("canbus: ip link set type can failed: %w; output: %s", err, out))
	}
	return SetInterfaceUp(name)
}
