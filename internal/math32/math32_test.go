package math32

import (
	"math"
	"testing"
)

func TestAdd(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}
	expected := []float32{11, 22, 33, 44, 55}

	Add(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("Add(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestAxpy(t *testing.T) {
	dst := []float32{1, 2, 3, 4, 5}
	src := []float32{10, 20, 30, 40, 50}
	expected := []float32{6, 12, 18, 24, 30}

	Axpy(dst, src, 0.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("Axpy(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	var expected float32 = 70

	if result := Dot(a, b); result != expected {
		t.Errorf("Dot = %f, want %f", result, expected)
	}
}

func TestExpFast(t *testing.T) {
	for _, x := range []float32{-10, -1, -0.1, 0, 0.1, 1, 5, 10} {
		got := float64(ExpFast(x))
		want := math.Exp(float64(x))
		if relErr := math.Abs(got-want) / want; relErr > 0.01 {
			t.Errorf("ExpFast(%f) = %f, want %f (rel err %f)", x, got, want, relErr)
		}
	}
}

func TestExpFastFullRange(t *testing.T) {
	// Sweep the whole supported domain, including magnitudes where the
	// binary exponent exceeds 64. Values there must stay finite, positive,
	// and close to the reference.
	for x := float32(-88); x <= 88; x += 0.25 {
		got := float64(ExpFast(x))
		want := math.Exp(float64(x))

		if math.IsInf(got, 0) || math.IsNaN(got) {
			t.Fatalf("ExpFast(%f) = %f, not finite", x, got)
		}
		if got <= 0 {
			t.Fatalf("ExpFast(%f) = %f, want positive", x, got)
		}
		if relErr := math.Abs(got-want) / want; relErr > 0.01 {
			t.Errorf("ExpFast(%f) = %g, want %g (rel err %f)", x, got, want, relErr)
		}
	}
}

func TestSoftmax(t *testing.T) {
	row := []float32{1, 2, 3, 4}
	Softmax(row)

	var sum float32
	prev := float32(-1)
	for i, v := range row {
		if v < 0 || v > 1 {
			t.Errorf("Softmax[%d] = %f outside [0,1]", i, v)
		}
		if v <= prev {
			t.Errorf("Softmax should be monotone for increasing scores")
		}
		prev = v
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Errorf("Softmax sum = %f, want 1", sum)
	}
}

func TestSoftmaxLargeScores(t *testing.T) {
	// The max-subtraction must keep huge scores finite.
	row := []float32{1000, 1001, 1002}
	Softmax(row)
	var sum float32
	for _, v := range row {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Softmax produced non-finite value %f", v)
		}
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Errorf("Softmax sum = %f, want 1", sum)
	}
}

func TestSoftmaxWideSpread(t *testing.T) {
	// A score trailing the row max by 45-88 exercises exponents past the
	// float64 mantissa shift range; the trailing weight must come out as
	// a tiny value, not poison the normalization.
	for _, spread := range []float32{45, 50, 70, 88} {
		row := []float32{0, -spread}
		Softmax(row)

		var sum float32
		for i, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("spread %f: Softmax[%d] = %f", spread, i, v)
			}
			sum += v
		}
		if math.Abs(float64(sum)-1) > 1e-5 {
			t.Errorf("spread %f: Softmax sum = %f, want 1", spread, sum)
		}
		if row[0] < 0.999 {
			t.Errorf("spread %f: dominant weight = %f, want ~1", spread, row[0])
		}
		if row[1] < 0 || row[1] > 1e-6 {
			t.Errorf("spread %f: trailing weight = %g, want ~0", spread, row[1])
		}
	}
}

func TestRelu(t *testing.T) {
	data := []float32{-2, -0.5, 0, 0.5, 2}
	expected := []float32{0, 0, 0, 0.5, 2}

	Relu(data)

	for i, v := range data {
		if v != expected[i] {
			t.Errorf("Relu(%d) = %f, want %f", i, v, expected[i])
		}
	}
}
