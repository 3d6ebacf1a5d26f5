package graph

import "fmt"

// ValueType is the type tag carried by sockets and code chunks.
type ValueType uint8

// Value types.
const (
	// TypeInvalid is the zero value and never valid on a socket.
	TypeInvalid ValueType = iota

	// TypeFloat is a 32-bit scalar (f32).
	TypeFloat

	// TypeFloat2 is vec2<f32>.
	TypeFloat2

	// TypeFloat3 is vec3<f32>.
	TypeFloat3

	// TypeFloat4 is vec4<f32>.
	TypeFloat4

	// TypeTexture2D is a sampled 2D texture handle (texture_2d<f32>).
	TypeTexture2D

	// TypeSampler is a filtering sampler handle.
	TypeSampler

	// TypeDynamic marks an input that accepts any numeric type. Blocks with
	// dynamic inputs derive their output type from what is connected.
	TypeDynamic
)

var valueTypeNames = [...]string{
	TypeInvalid:   "invalid",
	TypeFloat:     "float",
	TypeFloat2:    "float2",
	TypeFloat3:    "float3",
	TypeFloat4:    "float4",
	TypeTexture2D: "texture2d",
	TypeSampler:   "sampler",
	TypeDynamic:   "dynamic",
}

// String returns the canonical lower-case name of the type.
func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// ParseValueType is the inverse of String.
func ParseValueType(s string) (ValueType, error) {
	for i, name := range valueTypeNames {
		if name == s && ValueType(i) != TypeInvalid {
			return ValueType(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("graph: unknown value type %q", s)
}

// WGSL returns the WGSL spelling of the type.
func (t ValueType) WGSL() string {
	switch t {
	case TypeFloat:
		return "f32"
	case TypeFloat2:
		return "vec2<f32>"
	case TypeFloat3:
		return "vec3<f32>"
	case TypeFloat4:
		return "vec4<f32>"
	case TypeTexture2D:
		return "texture_2d<f32>"
	case TypeSampler:
		return "sampler"
	default:
		return ""
	}
}

// Components returns the number of f32 components, or 0 for non-numeric types.
func (t ValueType) Components() int {
	switch t {
	case TypeFloat:
		return 1
	case TypeFloat2:
		return 2
	case TypeFloat3:
		return 3
	case TypeFloat4:
		return 4
	default:
		return 0
	}
}

// IsNumeric reports whether t is a float scalar or vector.
func (t ValueType) IsNumeric() bool { return t.Components() > 0 }

// VectorOf returns the float type with n components.
func VectorOf(n int) ValueType {
	switch n {
	case 1:
		return TypeFloat
	case 2:
		return TypeFloat2
	case 3:
		return TypeFloat3
	case 4:
		return TypeFloat4
	default:
		return TypeInvalid
	}
}

// Convertible reports whether a value of type from may feed a socket of
// type to. The implicit conversion table is:
//
//	exact match                     always
//	float       -> float2..float4   splat
//	floatN      -> floatM (M < N)   truncation (.x, .xy, .xyz)
//	numeric     -> dynamic          as-is
//
// Everything else, including vector widening and vector to scalar, is
// rejected.
func Convertible(from, to ValueType) bool {
	if from == to {
		return from != TypeInvalid && from != TypeDynamic
	}
	if to == TypeDynamic {
		return from.IsNumeric()
	}
	if !from.IsNumeric() || !to.IsNumeric() {
		return false
	}
	if from == TypeFloat {
		return true
	}
	return to != TypeFloat && to.Components() < from.Components()
}

// Convert rewrites expr of type from into an expression of type to.
// The caller must have checked Convertible.
func Convert(expr string, from, to ValueType) string {
	if from == to || to == TypeDynamic {
		return expr
	}
	if from == TypeFloat {
		return fmt.Sprintf("%s(%s)", to.WGSL(), expr)
	}
	return expr + "." + "xyzw"[:to.Components()]
}

// Unify returns the common numeric type of operands for component-wise
// operations: the widest vector, provided every other operand is a scalar
// or the same vector. ok is false if the operands cannot be unified.
func Unify(types ...ValueType) (ValueType, bool) {
	result := TypeInvalid
	for _, t := range types {
		if !t.IsNumeric() {
			return TypeInvalid, false
		}
		switch {
		case result == TypeInvalid || result == TypeFloat:
			result = t
		case t == TypeFloat || t == result:
		default:
			return TypeInvalid, false
		}
	}
	return result, result != TypeInvalid
}
