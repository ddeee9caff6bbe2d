package audio

import (
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func samplesFromPCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func sineWave(n int, freq float64, rate int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestMuLawRoundTrip(t *testing.T) {
	// Encode then decode must reproduce the signal within µ-law quantization
	// error, which grows with amplitude but stays under ~1/16 of the value.
	src := pcmFromSamples(sineWave(800, 440, TelephonyRate, 12000))

	decoded := DecodeMuLaw(EncodeMuLaw(src))
	if len(decoded) != len(src) {
		t.Fatalf("length mismatch: got %d want %d", len(decoded), len(src))
	}

	in := samplesFromPCM(src)
	out := samplesFromPCM(decoded)
	for i := range in {
		diff := math.Abs(float64(in[i]) - float64(out[i]))
		tolerance := math.Abs(float64(in[i]))/16 + 32
		if diff > tolerance {
			t.Fatalf("sample %d: %d -> %d (diff %.0f > tolerance %.0f)", i, in[i], out[i], diff, tolerance)
		}
	}
}

func TestMuLawEncodeDecodeExactForDecodedLevels(t *testing.T) {
	// Every µ-law code must survive decode then encode unchanged, except
	// negative zero: 0x7f decodes to 0, which re-encodes as 0xff.
	for i := 0; i < 256; i++ {
		b := byte(i)
		want := b
		if b == 0x7f {
			want = 0xff
		}
		got := EncodeMuLawSample(DecodeMuLawSample(b))
		if got != want {
			t.Errorf("code 0x%02x: re-encoded to 0x%02x, want 0x%02x", b, got, want)
		}
	}
}

func TestResampleDeterministic(t *testing.T) {
	src := pcmFromSamples(sineWave(320, 200, CanonicalRate, 8000))

	a := Upsample(src, 3)
	b := Upsample(src, 3)
	if string(a) != string(b) {
		t.Fatal("Upsample is not deterministic for identical input")
	}

	c := Downsample(a, 3)
	d := Downsample(a, 3)
	if string(c) != string(d) {
		t.Fatal("Downsample is not deterministic for identical input")
	}
}

func TestUpsampleDownsampleRoundTrip(t *testing.T) {
	src := pcmFromSamples(sineWave(320, 200, CanonicalRate, 8000))

	up := Upsample(src, 3)
	if len(up) != len(src)*3 {
		t.Fatalf("upsampled length: got %d want %d", len(up), len(src)*3)
	}

	down := Downsample(up, 3)
	if len(down) != len(src) {
		t.Fatalf("round-trip length: got %d want %d", len(down), len(src))
	}

	// Decimation lands exactly on the original sample positions.
	in := samplesFromPCM(src)
	out := samplesFromPCM(down)
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		min     float64
		max     float64
	}{
		{"silence", make([]int16, 160), 0, 0.01},
		{"full-scale dc", []int16{16000, 16000, 16000, 16000}, 15999, 16001},
		{"empty", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMSEnergy(pcmFromSamples(tt.samples))
			if got < tt.min || got > tt.max {
				t.Errorf("RMSEnergy = %.2f, want [%.2f, %.2f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestBufferTrimToLast(t *testing.T) {
	cfg := CanonicalConfig()
	b := NewBuffer(cfg, 1000)

	b.Write(make([]byte, cfg.BytesForDurationMs(800)))
	b.TrimToLast(300)

	if got := b.DurationMs(); got != 300 {
		t.Fatalf("DurationMs after trim = %d, want 300", got)
	}

	// Trimming to more than is buffered keeps everything.
	b.TrimToLast(900)
	if got := b.DurationMs(); got != 300 {
		t.Fatalf("DurationMs after oversized trim = %d, want 300", got)
	}
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	cfg := CanonicalConfig()
	b := NewBuffer(cfg, 100)

	first := make([]byte, cfg.BytesForDurationMs(100))
	for i := range first {
		first[i] = 0x01
	}
	second := make([]byte, cfg.BytesForDurationMs(50))
	for i := range second {
		second[i] = 0x02
	}

	b.Write(first)
	b.Write(second)

	data := b.Read()
	if len(data) != cfg.BytesForDurationMs(100) {
		t.Fatalf("buffer exceeded cap: %d bytes", len(data))
	}
	if data[len(data)-1] != 0x02 {
		t.Fatal("newest data missing after overflow trim")
	}
	if data[0] != 0x01 {
		t.Fatal("expected surviving prefix of older data")
	}
}
