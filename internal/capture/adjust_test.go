package capture

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestAdjustment_Coefficients(t *testing.T) {
	tests := []struct {
		name      string
		adj       Adjustment
		wantAlpha float64
		wantBeta  float64
		identity  bool
	}{
		{name: "identity", adj: NoAdjustment(), wantAlpha: 1, wantBeta: 0, identity: true},
		{name: "brighter", adj: Adjustment{Brightness: 1.5, Contrast: 1}, wantAlpha: 1, wantBeta: 50},
		{name: "darker", adj: Adjustment{Brightness: 0.8, Contrast: 1}, wantAlpha: 1, wantBeta: -20},
		{name: "more contrast", adj: Adjustment{Brightness: 1, Contrast: 2}, wantAlpha: 2, wantBeta: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.adj.Alpha(); got != tt.wantAlpha {
				t.Errorf("Alpha() = %f, want %f", got, tt.wantAlpha)
			}
			if got := tt.adj.Beta(); got < tt.wantBeta-1e-9 || got > tt.wantBeta+1e-9 {
				t.Errorf("Beta() = %f, want %f", got, tt.wantBeta)
			}
			if got := tt.adj.IsIdentity(); got != tt.identity {
				t.Errorf("IsIdentity() = %v, want %v", got, tt.identity)
			}
		})
	}
}

func TestAdjustment_Apply(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 50, 200, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	Adjustment{Brightness: 1.5, Contrast: 1}.Apply(&frame)

	v := frame.GetVecbAt(1, 1)
	want := []uint8{150, 100, 250}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("channel %d = %d, want %d", i, v[i], want[i])
		}
	}

	// Values saturate at 255.
	Adjustment{Brightness: 1, Contrast: 2}.Apply(&frame)
	if v := frame.GetVecbAt(0, 0); v[2] != 255 {
		t.Errorf("red channel = %d, want 255 after saturation", v[2])
	}
}
