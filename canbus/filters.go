package canbus

// FrameFilter decides whether a frame is of interest to a consumer.
type FrameFilter func(Frame) bool

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// And composes filters; the result matches when all match. Nil filters are
// skipped.
func And(filters ...FrameFilter) FrameFilter {
	return func(f Frame) bool {
		for _, ff := range filters {
			if ff != nil && !ff(f) {
				return false
			}
		}
		return true
	}
}

// Or matches when any of the non-nil filters matches. With no filters it
// matches nothing.
func Or(filters ...FrameFilter) FrameFilter {
	return func(f Frame) bool {
		for _, ff := range filters {
			if ff != nil && ff(f) {
				return true
			}
		}
		return false
	}
}
