package util

// CopyBytes returns an independent copy of src.
func CopyBytes(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

// WipeBytes best-effort zeroes the slice in place.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
