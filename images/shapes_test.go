package images

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
		epsilon  float32
	}{
		{
			name:     "Identical rectangles",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{0, 0, 100, 100},
			expected: 1.0,
			epsilon:  0.001,
		},
		{
			name:     "No overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{200, 200, 300, 300},
			expected: 0.0,
			epsilon:  0.001,
		},
		{
			name:     "Touching edges",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{100, 0, 200, 100},
			expected: 0.0,
			epsilon:  0.001,
		},
		{
			name:     "Half overlap",
			r1:       Rect{0, 0, 100, 100},
			r2:       Rect{50, 50, 150, 150},
			expected: 0.142857, // 2500 / 17500
			epsilon:  0.001,
		},
		{
			name:     "Nested fusion scenario",
			r1:       Rect{0, 0, 10, 10},
			r2:       Rect{1, 1, 9, 9},
			expected: 0.64, // 64 / 100
			epsilon:  0.0001,
		},
		{
			name:     "Sub-pixel overlap",
			r1:       Rect{0, 0, 1.5, 1.5},
			r2:       Rect{0.5, 0.5, 2, 2},
			expected: 1.0 / 3.5,
			epsilon:  0.0001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			if math.Abs(float64(result-tt.expected)) > float64(tt.epsilon) {
				t.Errorf("IoU() = %v, expected %v (±%v)", result, tt.expected, tt.epsilon)
			}

			reverse := CalculateIoU(tt.r2, tt.r1)
			if math.Abs(float64(result-reverse)) > float64(tt.epsilon) {
				t.Errorf("IoU not symmetric: IoU(A,B)=%v != IoU(B,A)=%v", result, reverse)
			}
		})
	}
}

// TestIoU_vs_ImageRectangle compares integer-aligned boxes against image.Rectangle
func TestIoU_vs_ImageRectangle(t *testing.T) {
	testCases := []struct {
		name string
		r1   image.Rectangle
		r2   image.Rectangle
	}{
		{"No overlap", image.Rect(0, 0, 100, 100), image.Rect(200, 200, 300, 300)},
		{"Partial overlap", image.Rect(0, 0, 100, 100), image.Rect(50, 50, 150, 150)},
		{"Full overlap", image.Rect(50, 50, 150, 150), image.Rect(50, 50, 150, 150)},
		{"Large boxes", image.Rect(0, 0, 1920, 1080), image.Rect(960, 540, 1920, 1080)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			custom := CalculateIoU(fromRectangle(tc.r1), fromRectangle(tc.r2))
			assert.InDelta(t, imageRectangleIoU(tc.r1, tc.r2), custom, 0.0001)
		})
	}
}

func fromRectangle(r image.Rectangle) Rect {
	return Rect{float32(r.Min.X), float32(r.Min.Y), float32(r.Max.X), float32(r.Max.Y)}
}

func imageRectangleIoU(r1, r2 image.Rectangle) float32 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}
	intersectArea := intersect.Dx() * intersect.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - intersectArea
	return float32(intersectArea) / float32(union)
}

// TestIoU_EdgeCases tests degenerate boxes and boundary conditions
func TestIoU_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"Zero area rectangle 1", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"Zero area rectangle 2", Rect{0, 0, 100, 100}, Rect{50, 50, 50, 50}},
		{"Both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"Inverted box", Rect{10, 10, 0, 0}, Rect{0, 0, 10, 10}},
		{"Negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"Very large coordinates", Rect{0, 0, 999999, 999999}, Rect{500000, 500000, 999999, 999999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.GreaterOrEqual(t, result, float32(0))
			assert.LessOrEqual(t, result, float32(1))

			reverse := CalculateIoU(tt.r2, tt.r1)
			assert.Equal(t, result, reverse)
		})
	}

	assert.Zero(t, CalculateIoU(Rect{5, 5, 5, 9}, Rect{0, 0, 10, 10}), "a flat box never overlaps")
}

func TestValidRange_Clamp(t *testing.T) {
	vr := ValidRange{XMin: 0, YMin: 10, XMax: 100, YMax: 50}

	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{"inside", Rect{10, 20, 30, 40}, Rect{10, 20, 30, 40}},
		{"overhangs right and bottom", Rect{90, 40, 150, 80}, Rect{90, 40, 99, 49}},
		{"overhangs left and top", Rect{-20, -5, 10, 15}, Rect{0, 10, 10, 15}},
		{"fully left collapses", Rect{-50, 20, -10, 30}, Rect{0, 20, 0, 30}},
		{"fully below collapses", Rect{10, 70, 20, 90}, Rect{10, 49, 20, 49}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vr.Clamp(tt.in)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.X1 > got.X2 && tt.in.X1 <= tt.in.X2, "clamping must not invert x")
			assert.False(t, got.Y1 > got.Y2 && tt.in.Y1 <= tt.in.Y2, "clamping must not invert y")
		})
	}
}

func TestValidRange_Validate(t *testing.T) {
	assert.NoError(t, FullRange(1242, 375).Validate())
	assert.Error(t, ValidRange{XMin: 10, XMax: 10, YMax: 5}.Validate())
}

func TestRecoverBox(t *testing.T) {
	input := Shape{Width: 600, Height: 200}
	original := Shape{Width: 1200, Height: 400}

	got := RecoverBox(Rect{10, 20, 100, 150}, input, original)
	assert.Equal(t, Rect{20, 40, 200, 300}, got)

	// Coordinates beyond the input frame are clipped to the original image.
	got = RecoverBox(Rect{-5, 150, 650, 260}, input, original)
	assert.Equal(t, Rect{0, 300, 1200, 400}, got)
	assert.True(t, got.Within(1200, 400))
}
