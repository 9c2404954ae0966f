package stepper

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// MockPin records what is written to it.  It satisfies PWMPin and stands in
// for the driver board when no hardware is attached.
type MockPin struct {
	// Name is used in String
	Name string

	mu      sync.Mutex
	level   gpio.Level
	duty    gpio.Duty
	freq    physic.Frequency
	writes  int
	enables int
	overlap bool
}

// NewMockPins returns a full set of mock pins
func NewMockPins() Pins {
	return Pins{
		Dir:   &MockPin{Name: "DIR"},
		Step:  &MockPin{Name: "STEP"},
		Sleep: &MockPin{Name: "SLEEP"},
		M0:    &MockPin{Name: "M0"},
		M1:    &MockPin{Name: "M1"},
	}
}

// Out sets the level and stops any PWM
func (p *MockPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
	p.duty = 0
	p.writes++
	return nil
}

// PWM records the duty and frequency.  A non-zero duty while the pin is
// already running counts as an overlapping enable.
func (p *MockPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if duty > 0 {
		p.enables++
		if p.duty > 0 {
			p.overlap = true
		}
	}
	p.duty = duty
	p.freq = f
	return nil
}

// Level returns the last level written with Out
func (p *MockPin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Duty returns the current PWM duty
func (p *MockPin) Duty() gpio.Duty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Freq returns the last PWM frequency
func (p *MockPin) Freq() physic.Frequency {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq
}

// Enables counts PWM writes with non-zero duty
func (p *MockPin) Enables() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enables
}

// Overlapped is true if PWM was enabled while already enabled
func (p *MockPin) Overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}

func (p *MockPin) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s: level=%v duty=%v freq=%v", p.Name, p.level, p.duty, p.freq)
}
