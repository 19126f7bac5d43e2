package audio

// Decimate downsamples PCM by dropping samples at a fixed stride of
// srcRate/dstRate. Nearest-neighbor decimation, not an anti-aliased
// resample: a deliberate quality-for-latency tradeoff acceptable for
// narrowband telephony output. No-op when the rates already match.
func Decimate(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	stride := srcRate / dstRate
	if stride <= 1 {
		return pcm
	}
	out := make([]int16, 0, len(pcm)/stride+1)
	for i := 0; i < len(pcm); i += stride {
		out = append(out, pcm[i])
	}
	return out
}
