package audio

// Integer-factor resampling between transport rates and the canonical
// rate. Upsampling uses linear interpolation, downsampling plain
// decimation. Both are pure integer/index arithmetic over the input, so
// identical input always produces identical output.

// Upsample interpolates PCM s16le by an integer factor (2 for
// 8 kHz to 16 kHz, 3 for 16 kHz to 48 kHz).
func Upsample(pcm []byte, factor int) []byte {
	if factor <= 1 {
		return append([]byte(nil), pcm...)
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	out := make([]byte, n*factor*2)
	for i := 0; i < n; i++ {
		cur := int32(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		next := cur
		if i+1 < n {
			next = int32(int16(pcm[(i+1)*2]) | int16(pcm[(i+1)*2+1])<<8)
		}
		for j := 0; j < factor; j++ {
			// Linear interpolation between cur and next.
			v := cur + (next-cur)*int32(j)/int32(factor)
			k := (i*factor + j) * 2
			out[k] = byte(v)
			out[k+1] = byte(v >> 8)
		}
	}
	return out
}

// Downsample decimates PCM s16le by an integer factor, keeping every
// factor-th sample (3 for 48 kHz to 16 kHz).
func Downsample(pcm []byte, factor int) []byte {
	if factor <= 1 {
		return append([]byte(nil), pcm...)
	}
	n := len(pcm) / 2
	out := make([]byte, 0, (n/factor+1)*2)
	for i := 0; i < n; i += factor {
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}
