package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// StreamPCM reads raw PCM frames, applies volume, encodes opus and writes
// packets to send until the stream ends or stop is closed. A clean end of
// stream returns nil.
func StreamPCM(pcm io.Reader, stop <-chan struct{}, volume func() float64, send chan<- []byte) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		select {
		case <-stop:
			return nil
		default:
			_, err := io.ReadFull(pcm, pcmBuf)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read error: %w", err)
			}

			vol := volume()
			for i := range intBuf {
				sample := int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
				intBuf[i] = int16(float64(sample) * vol)
			}

			packet, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
			if err != nil {
				return fmt.Errorf("encode error: %w", err)
			}

			select {
			case <-stop:
				return nil
			case send <- packet:
			}
		}
	}
}
