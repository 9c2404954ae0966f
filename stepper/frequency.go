package stepper

import (
	"fmt"
	"sort"
)

const (
	// DefaultSampleRate is the PWM sample rate in microseconds the daemon starts with
	DefaultSampleRate = 5

	// DefaultFrequencyIndex selects the default pulse frequency from a row of FrequencyTable
	DefaultFrequencyIndex = 12
)

// FrequencyTable lists the pulse frequencies (Hz) the PWM generator can produce,
// keyed by sample rate in microseconds.
var FrequencyTable = map[int][]int{
	1:  {50, 100, 200, 250, 400, 500, 800, 1000, 1250, 1600, 2000, 2500, 4000, 5000, 8000, 10000, 20000, 40000},
	2:  {25, 50, 100, 125, 200, 250, 400, 500, 625, 800, 1000, 1250, 2000, 2500, 4000, 5000, 10000, 20000},
	4:  {13, 25, 50, 63, 100, 125, 200, 250, 313, 400, 500, 625, 1000, 1250, 2000, 2500, 5000, 10000},
	5:  {10, 20, 40, 50, 80, 100, 160, 200, 250, 320, 400, 500, 800, 1000, 1600, 2000, 4000, 8000},
	8:  {6, 13, 25, 31, 50, 63, 100, 125, 156, 200, 250, 313, 500, 625, 1000, 1250, 2500, 5000},
	10: {5, 10, 20, 25, 40, 50, 80, 100, 125, 160, 200, 250, 400, 500, 800, 1000, 2000, 4000},
}

// SampleRates returns the keys of FrequencyTable in ascending order
func SampleRates() []int {
	out := make([]int, 0, len(FrequencyTable))
	for k := range FrequencyTable {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Frequencies returns a copy of the allowed frequencies for a sample rate
func Frequencies(sampleRate int) ([]int, error) {
	row, ok := FrequencyTable[sampleRate]
	if !ok {
		return nil, fmt.Errorf("%w: %d us, must be one of %v", ErrUnknownSampleRate, sampleRate, SampleRates())
	}
	return append([]int(nil), row...), nil
}

// FrequencyAllowed is true if hz can be generated at sampleRate
func FrequencyAllowed(sampleRate, hz int) bool {
	for _, f := range FrequencyTable[sampleRate] {
		if f == hz {
			return true
		}
	}
	return false
}
