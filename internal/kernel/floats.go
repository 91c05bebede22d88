package kernel

import "github.com/hupe1980/tinyvec/codec"

func dotGeneric[T codec.Scalar](a, b []T) float64 {
	var ret float64
	for i := range a {
		ret += float64(a[i]) * float64(b[i])
	}
	return ret
}

func squaredNormGeneric[T codec.Scalar](v []T) float64 {
	var ret float64
	for _, x := range v {
		f := float64(x)
		ret += f * f
	}
	return ret
}

func dotUnrolled[T codec.Scalar](a, b []T) float64 {
	var s0, s1, s2, s3 float64

	b = b[:len(a)]
	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		s0 += float64(a[i]) * float64(b[i])
		s1 += float64(a[i+1]) * float64(b[i+1])
		s2 += float64(a[i+2]) * float64(b[i+2])
		s3 += float64(a[i+3]) * float64(b[i+3])
	}
	for i := n; i < len(a); i++ {
		s0 += float64(a[i]) * float64(b[i])
	}

	return (s0 + s1) + (s2 + s3)
}

func squaredNormUnrolled[T codec.Scalar](v []T) float64 {
	var s0, s1, s2, s3 float64

	n := len(v) &^ 3
	for i := 0; i < n; i += 4 {
		x0, x1, x2, x3 := float64(v[i]), float64(v[i+1]), float64(v[i+2]), float64(v[i+3])
		s0 += x0 * x0
		s1 += x1 * x1
		s2 += x2 * x2
		s3 += x3 * x3
	}
	for i := n; i < len(v); i++ {
		x := float64(v[i])
		s0 += x * x
	}

	return (s0 + s1) + (s2 + s3)
}
