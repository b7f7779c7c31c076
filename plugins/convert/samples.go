// ABOUTME: Per-sample conversion primitives between float and fixed-point representations.
// ABOUTME: Unsigned formats are offset binary; integer full scale is 2^(bits-1).

package convert

import (
	"math"
	"unsafe"
)

// Sample is any scalar a stream element is built from.
type Sample interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~uint8 | ~uint16 | ~uint32
}

// AsBytes views a sample slice as raw bytes without copying.
func AsBytes[T Sample](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// AsSamples views the first n samples of a byte buffer as T without copying.
// It panics if b is too short.
func AsSamples[T Sample](b []byte, n int) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	b = b[:n*size]
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

func bitsOf[T Sample]() uint {
	var zero T
	return uint(unsafe.Sizeof(zero)) * 8
}

func isFloat[T Sample]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}

func isUnsigned[T Sample]() bool {
	var zero T
	zero--
	return zero > 0
}

// fullScale is the magnitude that maps to 1.0 in float formats.
func fullScale[T Sample]() float64 {
	return float64(int64(1) << (bitsOf[T]() - 1))
}

// offset is the stored value of zero: 2^(bits-1) for unsigned formats, 0 otherwise.
func offset[T Sample]() int64 {
	if isUnsigned[T]() {
		return int64(1) << (bitsOf[T]() - 1)
	}
	return 0
}

// toWide re-expresses an integer sample as a signed value left aligned in 32 bits.
func toWide[T Sample](v T) int64 {
	return (int64(v) - offset[T]()) << (32 - bitsOf[T]())
}

// fromWide is the inverse of toWide, truncating low bits when narrowing.
func fromWide[T Sample](w int64) T {
	return T((w >> (32 - bitsOf[T]())) + offset[T]())
}

func normalize[T Sample](v T) float64 {
	return float64(int64(v)-offset[T]()) / fullScale[T]()
}

func denormalize[T Sample](f float64) T {
	fs := fullScale[T]()
	x := math.Max(-fs, math.Min(fs-1, f*fs))
	return T(int64(x) + offset[T]())
}

// clampTo saturates a scaled value into the range of T.
func clampTo[T Sample](f float64) T {
	if isFloat[T]() {
		return T(f)
	}
	lo := 0.0
	if !isUnsigned[T]() {
		lo = -fullScale[T]()
	}
	hi := lo + 2*fullScale[T]() - 1
	return T(math.Max(lo, math.Min(hi, f)))
}

// scaleSample multiplies the signal value of v, keeping the offset-binary zero in place.
func scaleSample[T Sample](v T, scale float64) T {
	if isFloat[T]() {
		return T(float64(v) * scale)
	}
	off := float64(offset[T]())
	return clampTo[T]((float64(v)-off)*scale + off)
}

// sampleConverter picks the conversion rule for S to D once, outside the hot loop.
func sampleConverter[S, D Sample]() func(S) D {
	switch {
	case isFloat[S]() && isFloat[D]():
		return func(v S) D { return D(v) }
	case isFloat[D]():
		return func(v S) D { return D(normalize(v)) }
	case isFloat[S]():
		return func(v S) D { return denormalize[D](float64(v)) }
	default:
		return func(v S) D { return fromWide[D](toWide(v)) }
	}
}

// convertFunc builds a Func converting S to D scalars, depth scalars per element.
func convertFunc[S, D Sample](depth int) Func {
	conv := sampleConverter[S, D]()
	return func(src, dst []byte, numElems int, scale float64) {
		in := AsSamples[S](src, numElems*depth)
		out := AsSamples[D](dst, numElems*depth)
		if scale == 1 {
			for i, v := range in {
				out[i] = conv(v)
			}
			return
		}
		for i, v := range in {
			out[i] = scaleSample(conv(v), scale)
		}
	}
}

// copyFunc moves elemSize-byte elements unchanged at unit scale and scales them otherwise.
func copyFunc[T Sample](depth int) Func {
	var zero T
	elemSize := int(unsafe.Sizeof(zero)) * depth
	return func(src, dst []byte, numElems int, scale float64) {
		if scale == 1 {
			copy(dst[:numElems*elemSize], src[:numElems*elemSize])
			return
		}
		in := AsSamples[T](src, numElems*depth)
		out := AsSamples[T](dst, numElems*depth)
		for i, v := range in {
			out[i] = scaleSample(v, scale)
		}
	}
}
