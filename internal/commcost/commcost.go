// Package commcost converts mask density and datatype width into the bit
// counts charged for federated downloads and uploads. All functions are
// pure; mask bits are counted at one bit per mask slot and parameters at
// their transmission width.
package commcost

// DownloadMask is the cost of receiving a full mask: one bit per slot.
func DownloadMask(maskBits int) float64 {
	return float64(maskBits)
}

// DownloadParams is the cost of receiving the active weights at full 32-bit
// width plus every unmasked parameter (biases).
func DownloadParams(sparsity float64, maskBits, paramBits int) float64 {
	return (1-sparsity)*float64(maskBits)*32 + float64(paramBits-maskBits*32)
}

// UploadMask is the cost of transmitting the active fraction of a mask
// after a readjustment.
func UploadMask(sparsity float64, maskBits int) float64 {
	return (1 - sparsity) * float64(maskBits)
}

// UploadParams is the cost of reporting the active weights at the given
// width (16 when half-precision upload is enabled, 32 otherwise) plus the
// remaining parameter payload at the same accounting width.
func UploadParams(sparsity float64, maskBits, paramBits, width int) float64 {
	return (1-sparsity)*float64(maskBits)*float64(width) + float64(paramBits-maskBits*width)
}

// Width returns the parameter transmission width for an upload.
func Width(fp16 bool) int {
	if fp16 {
		return 16
	}
	return 32
}
