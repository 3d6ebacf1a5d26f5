package graph

import "testing"

func TestConvertible(t *testing.T) {
	tests := []struct {
		from, to ValueType
		want     bool
	}{
		{TypeFloat, TypeFloat, true},
		{TypeFloat3, TypeFloat3, true},
		{TypeFloat, TypeFloat2, true},
		{TypeFloat, TypeFloat4, true},
		{TypeFloat4, TypeFloat3, true},
		{TypeFloat3, TypeFloat2, true},
		{TypeFloat2, TypeFloat3, false},
		{TypeFloat3, TypeFloat, false},
		{TypeFloat2, TypeDynamic, true},
		{TypeTexture2D, TypeFloat4, false},
		{TypeTexture2D, TypeTexture2D, true},
		{TypeTexture2D, TypeDynamic, false},
		{TypeDynamic, TypeDynamic, false},
		{TypeInvalid, TypeInvalid, false},
	}
	for _, tt := range tests {
		if got := Convertible(tt.from, tt.to); got != tt.want {
			t.Errorf("Convertible(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		from, to ValueType
		want     string
	}{
		{TypeFloat, TypeFloat, "v"},
		{TypeFloat, TypeFloat3, "vec3<f32>(v)"},
		{TypeFloat4, TypeFloat3, "v.xyz"},
		{TypeFloat3, TypeFloat2, "v.xy"},
		{TypeFloat2, TypeDynamic, "v"},
	}
	for _, tt := range tests {
		if got := Convert("v", tt.from, tt.to); got != tt.want {
			t.Errorf("Convert(v, %s, %s) = %q, want %q", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUnify(t *testing.T) {
	tests := []struct {
		in     []ValueType
		want   ValueType
		wantOK bool
	}{
		{[]ValueType{TypeFloat, TypeFloat}, TypeFloat, true},
		{[]ValueType{TypeFloat, TypeFloat3}, TypeFloat3, true},
		{[]ValueType{TypeFloat3, TypeFloat, TypeFloat3}, TypeFloat3, true},
		{[]ValueType{TypeFloat2, TypeFloat3}, TypeInvalid, false},
		{[]ValueType{TypeFloat, TypeTexture2D}, TypeInvalid, false},
		{nil, TypeInvalid, false},
	}
	for _, tt := range tests {
		got, ok := Unify(tt.in...)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Unify(%v) = %s, %v, want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseValueType(t *testing.T) {
	for _, typ := range []ValueType{TypeFloat, TypeFloat2, TypeFloat3, TypeFloat4, TypeTexture2D, TypeSampler, TypeDynamic} {
		got, err := ParseValueType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseValueType(%q) = %v, %v", typ.String(), got, err)
		}
	}
	if _, err := ParseValueType("invalid"); err == nil {
		t.Error("ParseValueType(invalid) succeeded")
	}
}

func TestVectorOf(t *testing.T) {
	for n := 1; n <= 4; n++ {
		if got := VectorOf(n).Components(); got != n {
			t.Errorf("VectorOf(%d).Components() = %d", n, got)
		}
	}
	if VectorOf(5) != TypeInvalid {
		t.Error("VectorOf(5) should be invalid")
	}
}
