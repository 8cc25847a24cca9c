//go:build !linux

package canbus

// DialSocketCAN is only available on Linux.
func DialSocketCAN(iface string) (Bus, error) {
	return nil, ErrUnsupported
}

// IsInterfaceUp is only available on Linux.
func IsInterfaceUp(name string) (bool, error) {
	return false, ErrUnsupported
}

// SetBitrate is only available on Linux.
func SetBitrate(name string, bitrate uint32) error {
	return ErrUnsupported
}
