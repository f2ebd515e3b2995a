// Package audio writes the PCM16 recordings produced by relay sessions.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the rate of every PCM16 stream exchanged with the upstream API.
	SampleRate = 24000
	// BitDepth of the linear PCM payload.
	BitDepth = 16
	// Channels is always mono.
	Channels = 1

	pcmFormat = 1
)

// Samples converts little-endian signed 16-bit PCM into integer samples.
// A trailing odd byte cannot form a sample and is dropped.
func Samples(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

// PCM converts integer samples back to little-endian PCM16, clipping to the int16 range.
func PCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

// WritePCM16 writes pcm as a mono 16-bit WAV file at path, creating the parent directory.
func WritePCM16(path string, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, BitDepth, Channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: Channels,
			SampleRate:  sampleRate,
		},
		Data:           Samples(pcm),
		SourceBitDepth: BitDepth,
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close wav file: %w", err)
	}
	return nil
}

// ReadPCM16 decodes a WAV file written by WritePCM16 and returns its raw PCM payload and sample rate.
func ReadPCM16(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav: %w", err)
	}
	if dec.BitDepth != BitDepth || dec.NumChans != Channels {
		return nil, 0, fmt.Errorf("unsupported wav layout: %d-bit %d channel(s)", dec.BitDepth, dec.NumChans)
	}
	return PCM(buf.Data), int(dec.SampleRate), nil
}
