package media

import (
	"encoding/binary"

	"github.com/pion/opus"
)

// opusDecoder turns Opus packets into 16kHz mono float samples.
type opusDecoder struct {
	decoder *opus.Decoder
	pcm48   []byte // 20ms at 48kHz stereo, S16LE
}

func newOpusDecoder() *opusDecoder {
	return &opusDecoder{
		decoder: &opus.Decoder{},
		pcm48:   make([]byte, 960*2*2),
	}
}

// Decode decodes one packet. Opus decodes at 48kHz; every third frame is kept
// and stereo is averaged down to mono.
func (d *opusDecoder) Decode(packet []byte) ([]float32, error) {
	_, isStereo, err := d.decoder.Decode(packet, d.pcm48)
	if err != nil {
		return nil, err
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	const samplesPerChannel = 960
	out := make([]float32, 0, samplesPerChannel/3)
	for i := 0; i < samplesPerChannel/3; i++ {
		off := i * 3 * channels * 2
		if off+1 >= len(d.pcm48) {
			break
		}
		sample := int32(int16(binary.LittleEndian.Uint16(d.pcm48[off:])))
		if isStereo && off+3 < len(d.pcm48) {
			right := int32(int16(binary.LittleEndian.Uint16(d.pcm48[off+2:])))
			sample = (sample + right) / 2
		}
		out = append(out, float32(sample)/32768)
	}
	return out, nil
}
