// Package wav muxes and parses the minimal mono 16-bit PCM WAV container the
// analysis services accept.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the canonical RIFF/WAVE header.
const HeaderSize = 44

var (
	ErrShortHeader = errors.New("wav: header shorter than 44 bytes")
	ErrNotWAV      = errors.New("wav: not a RIFF/WAVE stream")
	ErrUnsupported = errors.New("wav: only 16-bit PCM is supported")
)

// Header describes the fields of a canonical WAV header.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// Encode muxes mono float samples in [-1, 1] into a 16-bit PCM WAV file.
// Same samples and rate always produce identical bytes.
func Encode(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(HeaderSize + dataSize)

	// bytes.Buffer writes never fail.
	_ = WriteHeader(&buf, sampleRate, 1, dataSize)

	pcm := make([]byte, dataSize)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(FloatToInt16(s)))
	}
	buf.Write(pcm)
	return buf.Bytes()
}

// EncodePCM16 wraps little-endian 16-bit PCM bytes in a WAV container.
func EncodePCM16(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))
	_ = WriteHeader(&buf, sampleRate, channels, len(pcm))
	buf.Write(pcm)
	return buf.Bytes()
}

// WriteHeader writes a 44-byte WAV header for 16-bit PCM.
func WriteHeader(w io.Writer, sampleRate, channels, dataSize int) error {
	blockAlign := channels * 2
	fields := []any{
		[]byte("RIFF"),
		uint32(36 + dataSize),
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16), // fmt chunk size
		uint16(1),  // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * blockAlign), // byte rate
		uint16(blockAlign),
		uint16(16), // bits per sample
		[]byte("data"),
		uint32(dataSize),
	}
	for _, f := range fields {
		if b, ok := f.([]byte); ok {
			if _, err := w.Write(b); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// ParseHeader reads the canonical 44-byte header from b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " {
		return Header{}, ErrNotWAV
	}
	h := Header{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
	}
	if binary.LittleEndian.Uint16(b[20:22]) != 1 || h.BitsPerSample != 16 {
		return Header{}, ErrUnsupported
	}
	if string(b[36:40]) != "data" {
		return Header{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	h.DataSize = int(binary.LittleEndian.Uint32(b[40:44]))
	return h, nil
}

// Decode parses a WAV produced by Encode (or any canonical 16-bit PCM WAV)
// and returns mono float samples. Multi-channel input is averaged to mono.
func Decode(b []byte) ([]float32, Header, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, Header{}, err
	}
	data := b[HeaderSize:]
	if h.DataSize < len(data) {
		data = data[:h.DataSize]
	}
	return PCM16ToFloat(data, h.Channels), h, nil
}

// PCM16ToFloat converts little-endian 16-bit PCM into mono float samples.
func PCM16ToFloat(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frame := channels * 2
	n := len(pcm) / frame
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := i*frame + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		out[i] = float32(sum) / float32(channels) / 32768
	}
	return out
}

// FloatToInt16 clamps s to [-1, 1] and scales it to a signed 16-bit sample.
func FloatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}
