package safe

import (
	"math"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestAdd(t *testing.T) {
	if got := Add(2, 3); got != 5 {
		t.Errorf("Add(2,3) = %d, want 5", got)
	}
	mustPanic(t, "Add overflow", func() { Add(math.MaxInt64, 1) })
	mustPanic(t, "Add underflow", func() { Add(math.MinInt64, -1) })
}

func TestSub(t *testing.T) {
	if got := Sub(5, 3); got != 2 {
		t.Errorf("Sub(5,3) = %d, want 2", got)
	}
	mustPanic(t, "Sub underflow", func() { Sub(math.MinInt64, 1) })
}

func TestMul(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{0, 100, 0},
		{100, 20, 2000},
		{-3, 7, -21},
		{-3, -7, 21},
	}
	for _, tt := range tests {
		if got := Mul(tt.a, tt.b); got != tt.want {
			t.Errorf("Mul(%d,%d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
	mustPanic(t, "Mul overflow", func() { Mul(math.MaxInt64, 2) })
	mustPanic(t, "Mul negative overflow", func() { Mul(math.MinInt64, 2) })
}

func TestDiv(t *testing.T) {
	if got := Div(10, 3); got != 3 {
		t.Errorf("Div(10,3) = %d, want 3", got)
	}
	mustPanic(t, "Div by zero", func() { Div(1, 0) })
	mustPanic(t, "Div overflow", func() { Div(math.MinInt64, -1) })
}
