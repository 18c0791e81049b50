// Package contour turns audio into the pitch-contour ("bin location") tensors
// consumed by the GST encoder and collates them into batches.
package contour

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// DecodeWAV decodes PCM WAV bytes into float32 mono samples in [-1, 1] and
// returns them with the file's sample rate. Multi-channel audio is averaged
// down to mono.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("contour: empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("contour: invalid WAV file")
	}

	if dec.SampleRate == 0 {
		return nil, 0, errors.New("contour: WAV sample rate is zero")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("contour: reading PCM data: %w", err)
	}

	channels := int(dec.NumChans)
	if channels <= 1 {
		return buf.Data, int(dec.SampleRate), nil
	}

	frames := len(buf.Data) / channels
	mono := make([]float32, frames)

	for i := range frames {
		var sum float32
		for _, v := range buf.Data[i*channels : (i+1)*channels] {
			sum += v
		}

		mono[i] = sum / float32(channels)
	}

	return mono, int(dec.SampleRate), nil
}

// EncodeWAV writes mono float32 samples as 16-bit PCM WAV bytes.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("contour: invalid sample rate %d", sampleRate)
	}

	var out bytes.Buffer

	sw := &seekBuffer{buf: &out}
	enc := wav.NewEncoder(sw, sampleRate, 16, 1, 1)

	pcm := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}

	if err := enc.Write(pcm); err != nil {
		return nil, fmt.Errorf("contour: writing PCM: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("contour: closing encoder: %w", err)
	}

	return out.Bytes(), nil
}

// seekBuffer adapts a bytes.Buffer to io.WriteSeeker; the WAV encoder seeks
// back to patch chunk sizes on Close.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n

		return n, err
	}

	data := s.buf.Bytes()

	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
	}

	s.pos += len(p)

	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int

	switch whence {
	case 0:
		pos = int(offset)
	case 1:
		pos = s.pos + int(offset)
	case 2:
		pos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("contour: invalid whence %d", whence)
	}

	if pos < 0 || pos > s.buf.Len() {
		return 0, fmt.Errorf("contour: seek to %d outside buffer of %d bytes", pos, s.buf.Len())
	}

	s.pos = pos

	return int64(pos), nil
}
