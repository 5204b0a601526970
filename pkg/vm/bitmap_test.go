package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBitmap_NewBitmap(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{"empty", 0},
		{"small", 10},
		{"exactly 64", 64},
		{"over 64", 100},
		{"address space", MemorySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBitmap(tt.length)
			if b.Len() != tt.length {
				t.Errorf("expected length %d, got %d", tt.length, b.Len())
			}
			if b.PopCount() != 0 {
				t.Errorf("expected no bits set, got %d", b.PopCount())
			}
		})
	}
}

func TestBitmap_SetReset(t *testing.T) {
	b := NewBitmap(100)

	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(99)
	b.Set(100) // out of range, ignored

	for _, i := range []int{0, 63, 64, 99} {
		if !b.IsSet(i) {
			t.Errorf("bit %d should be set", i)
		}
	}
	if b.PopCount() != 4 {
		t.Errorf("expected 4 bits, got %d", b.PopCount())
	}

	b.Reset()
	if b.PopCount() != 0 {
		t.Errorf("expected empty bitmap after Reset, got %d", b.PopCount())
	}
}

func TestBitmap_Spans(t *testing.T) {
	b := NewBitmap(200)
	b.SetRange(0, 3)
	b.SetRange(3, 2)
	b.SetRange(60, 10)
	b.SetRange(198, 5)

	want := []Span{{0, 5}, {60, 70}, {198, 200}}
	if diff := cmp.Diff(want, b.Spans()); diff != "" {
		t.Errorf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestBitmap_Clone(t *testing.T) {
	a := NewBitmap(70)
	a.Set(1)
	a.Set(65)

	c := a.Clone()
	if c.Len() != 70 || !c.IsSet(1) || !c.IsSet(65) {
		t.Errorf("unexpected clone: len=%d spans=%v", c.Len(), c.Spans())
	}

	c.Reset()
	if !a.IsSet(1) {
		t.Error("expected Clone to be independent")
	}
}
