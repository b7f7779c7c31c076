// ABOUTME: Stream sample format identifiers and their per-element sizes.
// ABOUTME: Complex formats carry a leading "C" and hold two scalars per element.

package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// Complex formats: interleaved real and imaginary parts.
const (
	CF64 = "CF64"
	CF32 = "CF32"
	CS32 = "CS32"
	CU32 = "CU32"
	CS16 = "CS16"
	CU16 = "CU16"
	CS12 = "CS12"
	CU12 = "CU12"
	CS8  = "CS8"
	CU8  = "CU8"
	CS4  = "CS4"
	CU4  = "CU4"
)

// Real formats.
const (
	F64 = "F64"
	F32 = "F32"
	S32 = "S32"
	U32 = "U32"
	S16 = "S16"
	U16 = "U16"
	S8  = "S8"
	U8  = "U8"
)

// FormatToSize returns the number of bytes in one element of format, such as
// 8 for CF32 or 3 for the packed CS12. It parses the trailing bit count so
// unlisted formats like "CS24" work too.
func FormatToSize(format string) (int, error) {
	bits, err := elementBits(format)
	if err != nil {
		return 0, err
	}
	if bits%8 != 0 {
		return 0, fmt.Errorf("format %q is not byte aligned", format)
	}
	return bits / 8, nil
}

// IsFormat reports whether format is a well-formed format name, byte aligned or not.
func IsFormat(format string) bool {
	_, err := elementBits(format)
	return err == nil
}

func elementBits(format string) (int, error) {
	body := strings.TrimPrefix(format, "C")
	if len(body) < 2 || !strings.ContainsRune("FSU", rune(body[0])) {
		return 0, fmt.Errorf("unknown format %q", format)
	}
	bits, err := strconv.Atoi(body[1:])
	if err != nil || bits <= 0 {
		return 0, fmt.Errorf("unknown format %q", format)
	}
	if IsComplex(format) {
		bits *= 2
	}
	return bits, nil
}

// IsComplex reports whether format holds interleaved I/Q pairs.
func IsComplex(format string) bool {
	return strings.HasPrefix(format, "C")
}
