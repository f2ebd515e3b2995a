package relay

import (
	"sync"

	"github.com/harun/voxrelay/pkg/audio"
)

// AudioAccumulator collects response audio chunks in arrival order.
type AudioAccumulator struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// NewAudioAccumulator creates an empty accumulator.
func NewAudioAccumulator() *AudioAccumulator {
	return &AudioAccumulator{}
}

// Append records one chunk. Empty chunks are ignored.
func (a *AudioAccumulator) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	a.mu.Lock()
	a.chunks = append(a.chunks, chunk)
	a.size += len(chunk)
	a.mu.Unlock()
}

// Len returns the number of buffered chunks.
func (a *AudioAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}

// Size returns the total number of buffered bytes.
func (a *AudioAccumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Chunks returns the buffered chunks in arrival order.
func (a *AudioAccumulator) Chunks() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]byte(nil), a.chunks...)
}

// Flush writes all buffered audio to path as a mono PCM16 WAV at audio.SampleRate
// and clears the buffer, even when the write fails. With less than one whole
// sample buffered it writes nothing and reports written=false.
func (a *AudioAccumulator) Flush(path string) (bool, error) {
	a.mu.Lock()
	chunks := a.chunks
	size := a.size
	a.chunks = nil
	a.size = 0
	a.mu.Unlock()

	if size < 2 {
		return false, nil
	}

	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	if err := audio.WritePCM16(path, pcm, audio.SampleRate); err != nil {
		return false, err
	}
	return true, nil
}
