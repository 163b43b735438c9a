package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeSilenceScenario(t *testing.T) {
	samples := make([]float32, 48000)
	out := Encode(samples, 16000)

	if len(out) != 96044 {
		t.Fatalf("got %d bytes, want 96044", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 96000 {
		t.Errorf("data chunk size = %d, want 96000", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != 36+96000 {
		t.Errorf("RIFF size = %d, want %d", got, 36+96000)
	}
	for i, b := range out[HeaderSize:] {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 for silence", i, b)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1, 0.25, 0.1}
	out := Encode(samples, 22050)

	h, err := ParseHeader(out)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.SampleRate != 22050 {
		t.Errorf("sample rate = %d, want 22050", h.SampleRate)
	}
	if h.DataSize != len(samples)*2 {
		t.Errorf("data size = %d, want %d", h.DataSize, len(samples)*2)
	}
	if h.Channels != 1 || h.BitsPerSample != 16 {
		t.Errorf("got %d channels / %d bits, want mono 16-bit", h.Channels, h.BitsPerSample)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 44100 {
		t.Errorf("byte rate = %d, want 44100", got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(i%200-100) / 100
	}
	a := Encode(samples, 16000)
	b := Encode(samples, 16000)
	if !bytes.Equal(a, b) {
		t.Fatal("encoding the same samples twice produced different bytes")
	}
}

func TestDecodeRecoversSamples(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.999, -1}
	decoded, h, err := Decode(Encode(samples, 8000))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.SampleRate != 8000 {
		t.Errorf("sample rate = %d, want 8000", h.SampleRate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		diff := decoded[i] - samples[i]
		if diff > 0.001 || diff < -0.001 {
			t.Errorf("sample %d = %f, want ~%f", i, decoded[i], samples[i])
		}
	}
}

func TestClampOutOfRange(t *testing.T) {
	if got := FloatToInt16(3); got != 32767 {
		t.Errorf("FloatToInt16(3) = %d, want 32767", got)
	}
	if got := FloatToInt16(-3); got != -32768 {
		t.Errorf("FloatToInt16(-3) = %d, want -32768", got)
	}
}

func TestParseHeaderRejectsGarbage(t *testing.T) {
	if _, err := ParseHeader([]byte("RIFF")); !errors.Is(err, ErrShortHeader) {
		t.Errorf("got %v, want ErrShortHeader", err)
	}
	junk := bytes.Repeat([]byte{'x'}, HeaderSize)
	if _, err := ParseHeader(junk); !errors.Is(err, ErrNotWAV) {
		t.Errorf("got %v, want ErrNotWAV", err)
	}
}

func TestEncodePCM16Stereo(t *testing.T) {
	pcm := make([]byte, 8) // two stereo frames
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(3000)))
	out := EncodePCM16(pcm, 48000, 2)

	samples, h, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if h.Channels != 2 {
		t.Errorf("channels = %d, want 2", h.Channels)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d mono samples, want 2", len(samples))
	}
	want := float32(2000) / 32768
	if samples[0] != want {
		t.Errorf("first sample = %f, want %f", samples[0], want)
	}
}
