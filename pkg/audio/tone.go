package audio

import (
	"math"
	"time"
)

// SineTone renders a mono PCM16 sine wave. amplitude is a fraction of full scale.
func SineTone(freq float64, duration time.Duration, sampleRate int, amplitude float64) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	if amplitude < 0 {
		amplitude = 0
	} else if amplitude > 1 {
		amplitude = 1
	}

	n := int(duration.Seconds() * float64(sampleRate))
	samples := make([]int, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int(amplitude * 32767 * math.Sin(2*math.Pi*freq*t))
	}
	return PCM(samples)
}
