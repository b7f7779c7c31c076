// ABOUTME: Generic-priority converters seeded into every default registry.
// ABOUTME: Covers copies and all conversions among F32, S32, S16, S8, U32, U16, U8 and their complex forms.

package convert

import "errors"

// RegisterDefaults adds the generic converters to r. It fails if any of the
// triples is already taken.
func RegisterDefaults(r *Registry) error {
	return errors.Join(
		registerFrom[float32](r, F32),
		registerFrom[int32](r, S32),
		registerFrom[int16](r, S16),
		registerFrom[int8](r, S8),
		registerFrom[uint32](r, U32),
		registerFrom[uint16](r, U16),
		registerFrom[uint8](r, U8),
	)
}

func registerFrom[S Sample](r *Registry, src string) error {
	return errors.Join(
		registerPair[S, float32](r, src, F32),
		registerPair[S, int32](r, src, S32),
		registerPair[S, int16](r, src, S16),
		registerPair[S, int8](r, src, S8),
		registerPair[S, uint32](r, src, U32),
		registerPair[S, uint16](r, src, U16),
		registerPair[S, uint8](r, src, U8),
	)
}

// registerPair registers src->dst and the complex counterpart, which carries
// two scalars per element.
func registerPair[S, D Sample](r *Registry, src, dst string) error {
	scalar, cplx := convertFunc[S, D](1), convertFunc[S, D](2)
	if src == dst {
		scalar, cplx = copyFunc[S](1), copyFunc[S](2)
	}
	_, errReal := r.Register(src, dst, Generic, scalar)
	_, errCplx := r.Register("C"+src, "C"+dst, Generic, cplx)
	return errors.Join(errReal, errCplx)
}
