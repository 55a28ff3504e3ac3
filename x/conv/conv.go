// Package conv formats integers without fmt or strconv, for the driver's
// console line on targets where those packages are too heavy.
package conv

// AppendUint appends the decimal form of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

// AppendInt appends the decimal form of n to dst, with a leading '-' when
// negative.
func AppendInt(dst []byte, n int64) []byte {
	if n < 0 {
		// Two's complement negation is exact for MinInt64 once unsigned.
		return AppendUint(append(dst, '-'), uint64(-(n+1))+1)
	}
	return AppendUint(dst, uint64(n))
}
