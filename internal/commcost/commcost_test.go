package commcost

import "testing"

func TestDownloadCosts(t *testing.T) {
	// 100 mask slots, 120 params total (100 weights + 20 biases) at 32 bits.
	maskBits := 100
	paramBits := 120 * 32

	if got := DownloadMask(maskBits); got != 100 {
		t.Errorf("DownloadMask = %v, want 100", got)
	}

	// Half sparse: 50 weights at 32 bits + 20 biases at 32 bits.
	got := DownloadParams(0.5, maskBits, paramBits)
	want := 0.5*100*32 + 20*32.0
	if got != want {
		t.Errorf("DownloadParams = %v, want %v", got, want)
	}
}

func TestUploadCosts(t *testing.T) {
	maskBits := 100
	paramBits := 120 * 32

	if got := UploadMask(0.75, maskBits); got != 25 {
		t.Errorf("UploadMask = %v, want 25", got)
	}

	tests := []struct {
		name  string
		width int
		want  float64
	}{
		{"full precision", 32, 0.5*100*32 + float64(120*32-100*32)},
		{"half precision", 16, 0.5*100*16 + float64(120*32-100*16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UploadParams(0.5, maskBits, paramBits, tt.width); got != tt.want {
				t.Errorf("UploadParams = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWidth(t *testing.T) {
	if Width(true) != 16 || Width(false) != 32 {
		t.Error("Width mapping incorrect")
	}
}
