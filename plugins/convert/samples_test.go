// ABOUTME: Tests for the generic sample converters seeded into the default registry.
// ABOUTME: Checks full-scale mapping, offset binary, narrowing shifts, clamping and scaling.

package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertWith[S, D Sample](t *testing.T, src, dst string, in []S, scale float64) []D {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	fn, err := r.Function(src, dst)
	require.NoError(t, err)

	depth := 1
	if IsComplex(src) {
		depth = 2
	}
	out := make([]D, len(in))
	fn(AsBytes(in), AsBytes(out), len(in)/depth, scale)
	return out
}

func TestCS16ToCF32AndBack(t *testing.T) {
	in := []int16{16384, -16384}

	floats := convertWith[int16, float32](t, CS16, CF32, in, 1.0)
	assert.InDelta(t, 0.5, floats[0], 1e-6)
	assert.InDelta(t, -0.5, floats[1], 1e-6)

	back := convertWith[float32, int16](t, CF32, CS16, floats, 1.0)
	assert.Equal(t, in, back)
}

func TestS16ToF32AndBack(t *testing.T) {
	in := []int16{0, 16384, -16384}

	toFloat, err := Default().Function(S16, F32)
	require.NoError(t, err)
	floats := make([]float32, len(in))
	toFloat(AsBytes(in), AsBytes(floats), len(in), 1.0)
	assert.Equal(t, []float32{0.0, 0.5, -0.5}, floats)

	toInt, err := Default().Function(F32, S16)
	require.NoError(t, err)
	back := make([]int16, len(in))
	toInt(AsBytes(floats), AsBytes(back), len(floats), 1.0)
	assert.Equal(t, in, back)
}

func TestFloatToIntegerClamps(t *testing.T) {
	out := convertWith[float32, int16](t, F32, S16, []float32{1.0, -1.0, 2.5, -3}, 1.0)
	assert.Equal(t, []int16{32767, -32768, 32767, -32768}, out)
}

func TestOffsetBinary(t *testing.T) {
	tests := []struct {
		name string
		in   []int16
		want []uint16
	}{
		{"zero maps to midpoint", []int16{0}, []uint16{32768}},
		{"extremes", []int16{-32768, 32767}, []uint16{0, 65535}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := convertWith[int16, uint16](t, S16, U16, tt.in, 1.0)
			assert.Equal(t, tt.want, out)

			back := convertWith[uint16, int16](t, U16, S16, out, 1.0)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestIntegerWidthShifts(t *testing.T) {
	assert.Equal(t, []int16{0x1234, -1},
		convertWith[int32, int16](t, S32, S16, []int32{0x12345678, -1}, 1.0))
	assert.Equal(t, []int32{0x12340000},
		convertWith[int16, int32](t, S16, S32, []int16{0x1234}, 1.0))
	assert.Equal(t, []int8{0x12},
		convertWith[int16, int8](t, S16, S8, []int16{0x1234}, 1.0))
	assert.Equal(t, []uint8{0x80, 0xff},
		convertWith[int8, uint8](t, S8, U8, []int8{0, 127}, 1.0))
	assert.Equal(t, []uint8{0x80},
		convertWith[uint16, uint8](t, U16, U8, []uint16{0x8000}, 1.0))
}

func TestUnsignedToFloat(t *testing.T) {
	out := convertWith[uint8, float32](t, U8, F32, []uint8{128, 0, 192}, 1.0)
	assert.InDelta(t, 0.0, out[0], 1e-6)
	assert.InDelta(t, -1.0, out[1], 1e-6)
	assert.InDelta(t, 0.5, out[2], 1e-6)
}

func TestCopyConverters(t *testing.T) {
	in := []int16{1, -2, 3, -4}

	assert.Equal(t, in, convertWith[int16, int16](t, CS16, CS16, in, 1.0))
	assert.Equal(t, []int16{2, -4, 6, -8}, convertWith[int16, int16](t, CS16, CS16, in, 2.0))
	assert.Equal(t, []int16{32767, -32768},
		convertWith[int16, int16](t, S16, S16, []int16{20000, -20000}, 2.0), "scaled copy saturates")
}

func TestScaleKeepsOffsetBinaryZero(t *testing.T) {
	out := convertWith[uint8, uint8](t, U8, U8, []uint8{128, 160}, 2.0)
	assert.Equal(t, []uint8{128, 192}, out)
}

func TestScaledConversion(t *testing.T) {
	out := convertWith[int16, float32](t, S16, F32, []int16{16384}, 0.5)
	assert.InDelta(t, 0.25, out[0], 1e-6)
}

func TestComplexConvertsBothParts(t *testing.T) {
	in := []int8{64, -64, 0, 127}
	out := convertWith[int8, float32](t, CS8, CF32, in, 1.0)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.InDelta(t, -0.5, out[1], 1e-6)
	assert.InDelta(t, 0.0, out[2], 1e-6)
	assert.InDelta(t, 127.0/128.0, out[3], 1e-6)
}

func TestFormatToSize(t *testing.T) {
	tests := []struct {
		format string
		size   int
	}{
		{CF64, 16}, {CF32, 8}, {CS32, 8}, {CU32, 8}, {CS16, 4}, {CU16, 4},
		{CS12, 3}, {CU12, 3}, {CS8, 2}, {CU8, 2}, {CS4, 1}, {CU4, 1},
		{F64, 8}, {F32, 4}, {S32, 4}, {U32, 4}, {S16, 2}, {U16, 2}, {S8, 1}, {U8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			size, err := FormatToSize(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.size, size)
		})
	}

	for _, bad := range []string{"", "C", "X16", "S", "Sx", "S4", "S0"} {
		_, err := FormatToSize(bad)
		assert.Error(t, err, "format %q", bad)
	}

	assert.True(t, IsFormat("S4"), "unaligned formats are still formats")
	assert.True(t, IsFormat(CF32))
	assert.False(t, IsFormat("X16"))
	assert.False(t, IsFormat("S0"))
}

func TestAsBytesViews(t *testing.T) {
	samples := []int16{1, 2, 3}
	b := AsBytes(samples)
	assert.Len(t, b, 6)
	assert.Nil(t, AsBytes([]int16{}))

	back := AsSamples[int16](b, 3)
	assert.Equal(t, samples, back)
	assert.Panics(t, func() { AsSamples[int32](b, 2) })
}
