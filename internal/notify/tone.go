package notify

import (
	"math"
	"time"

	"github.com/faiface/beep"
)

func durationOf(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func sine(sr beep.SampleRate, freq float64) beep.Streamer {
	var pos int
	step := 2 * math.Pi * freq / float64(sr)
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := 0.3 * math.Sin(step*float64(pos))
			samples[i] = [2]float64{v, v}
			pos++
		}
		return len(samples), true
	})
}
