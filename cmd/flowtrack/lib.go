package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/syringelab/flowtrack/adns3080"
	"github.com/syringelab/flowtrack/comm"
	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/generichttp/motion"
	"github.com/syringelab/flowtrack/imgrec"
	"github.com/syringelab/flowtrack/mqttpub"
	"github.com/syringelab/flowtrack/pump"
	"github.com/syringelab/flowtrack/server/middleware/locker"
	"github.com/syringelab/flowtrack/stepper"
	"github.com/syringelab/flowtrack/tracker"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// SensorConfig describes the optical flow sensor and how it is polled
type SensorConfig struct {
	// ResetPin is the periph name of the GPIO wired to the sensor's reset input
	ResetPin string `yaml:"reset_pin" koanf:"reset_pin"`

	Interval  time.Duration `yaml:"interval" koanf:"interval"`
	MaxErrors int           `yaml:"max_errors" koanf:"max_errors"`

	// Mode is image or motion
	Mode string `yaml:"mode" koanf:"mode"`

	// Required makes a sensor failure at startup fatal.  Otherwise the pump is served alone.
	Required bool `yaml:"required" koanf:"required"`

	Trail int `yaml:"trail" koanf:"trail"`
}

// MotorConfig names the driver pins and holds the power-on motor settings
type MotorConfig struct {
	Dir   string `yaml:"dir" koanf:"dir"`
	Step  string `yaml:"step" koanf:"step"`
	Sleep string `yaml:"sleep" koanf:"sleep"`
	M0    string `yaml:"m0" koanf:"m0"`
	M1    string `yaml:"m1" koanf:"m1"`

	Resolution   int `yaml:"resolution" koanf:"resolution"`
	SampleRateUS int `yaml:"sample_rate_us" koanf:"sample_rate_us"`
	FrequencyHz  int `yaml:"frequency_hz" koanf:"frequency_hz"`

	// Direction and Seconds are what MOTOR START and a bare pulse do
	Direction string  `yaml:"direction" koanf:"direction"`
	Seconds   float64 `yaml:"seconds" koanf:"seconds"`
}

// Stepper is the driver configuration
func (m MotorConfig) Stepper() stepper.Config {
	return stepper.Config{Resolution: m.Resolution, SampleRateUS: m.SampleRateUS, FrequencyHz: m.FrequencyHz}
}

// Config is the whole configuration tree
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"addr" koanf:"addr"`

	// Mock replaces the sensor and motor with simulations
	Mock bool `yaml:"mock" koanf:"mock"`

	// UI shows the desktop window
	UI bool `yaml:"ui" koanf:"ui"`

	SPI      comm.SPIConfig `yaml:"spi" koanf:"spi"`
	Sensor   SensorConfig   `yaml:"sensor" koanf:"sensor"`
	Motor    MotorConfig    `yaml:"motor" koanf:"motor"`
	Pump     pump.Geometry  `yaml:"pump" koanf:"pump"`
	MQTT     mqttpub.Config `yaml:"mqtt" koanf:"mqtt"`
	Recorder imgrec.Config  `yaml:"recorder" koanf:"recorder"`
}

// DefaultConfig is a Raspberry Pi wiring with the sensor on SPI0 chip select 0
func DefaultConfig() Config {
	tc := tracker.DefaultConfig()
	sc := stepper.DefaultConfig()
	return Config{
		Addr: ":8000",
		UI:   true,
		SPI:  comm.DefaultSPIConfig(),
		Sensor: SensorConfig{
			ResetPin: "GPIO25",
			Interval: tc.Interval,
			Mode:     tracker.ModeImageCapture.String(),
			Required: true,
			Trail:    tc.TrailLength,
		},
		Motor: MotorConfig{
			Dir:          "GPIO17",
			Step:         "GPIO27",
			Sleep:        "GPIO22",
			M0:           "GPIO24",
			M1:           "GPIO23",
			Resolution:   sc.Resolution,
			SampleRateUS: sc.SampleRateUS,
			Direction:    stepper.CW.String(),
			Seconds:      1,
		},
		Pump:     pump.DefaultGeometry(),
		MQTT:     mqttpub.DefaultConfig(),
		Recorder: imgrec.DefaultConfig(),
	}
}

// Tracker is the poller configuration
func (c Config) Tracker() (tracker.Config, error) {
	m, err := tracker.ParseMode(c.Sensor.Mode)
	if err != nil {
		return tracker.Config{}, err
	}
	return tracker.Config{
		Interval:    c.Sensor.Interval,
		MaxErrors:   c.Sensor.MaxErrors,
		TrailLength: c.Sensor.Trail,
		Mode:        m,
	}, nil
}

// Pulse is the configured default pulse
func (c Config) Pulse() (stepper.Command, error) {
	dir, err := stepper.ParseDirection(c.Motor.Direction)
	if err != nil {
		return stepper.Command{}, err
	}
	return stepper.Command{Direction: dir, Duration: time.Duration(c.Motor.Seconds * float64(time.Second))}, nil
}

// envKey maps FLOWTRACK_SENSOR_MAX_ERRORS to sensor.max_errors.  Only the
// first underscore after the prefix separates levels.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Rig is the hardware: the sensor on its bus, and the pump on its driver.
// Sensor is nil when it could not be opened and was not required.
type Rig struct {
	Bus    *comm.RegisterBus
	Sensor *adns3080.Sensor
	Driver *stepper.Driver
	Pump   *pump.Pump
}

func lookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no gpio named %q", name)
	}
	return p, nil
}

func motorPins(c MotorConfig) (stepper.Pins, error) {
	if _, err := host.Init(); err != nil {
		return stepper.Pins{}, err
	}
	var pins stepper.Pins
	names := []string{c.Dir, c.Step, c.Sleep, c.M0, c.M1}
	found := make([]gpio.PinIO, len(names))
	for i, n := range names {
		p, err := lookupPin(n)
		if err != nil {
			return pins, err
		}
		found[i] = p
	}
	pins.Dir, pins.Step, pins.Sleep, pins.M0, pins.M1 = found[0], found[1], found[2], found[3], found[4]
	return pins, nil
}

// OpenMotor sets up the motor driver and pump and wakes the driver
func OpenMotor(c Config) (*stepper.Driver, *pump.Pump, error) {
	pins := stepper.NewMockPins()
	if !c.Mock {
		var err error
		pins, err = motorPins(c.Motor)
		if err != nil {
			return nil, nil, fmt.Errorf("motor pins: %w", err)
		}
	}
	drv := stepper.New(pins, c.Motor.Stepper())
	if err := drv.ConfigurePins(); err != nil {
		// an invalid resolution leaves the driver awake in full-step
		log.Printf("motor: %v", err)
		if !drv.Awake() {
			return nil, nil, err
		}
	}
	return drv, pump.New(drv, c.Pump), nil
}

// OpenSensor opens the bus and returns the sensor on it
func OpenSensor(c Config) (*comm.RegisterBus, *adns3080.Sensor, error) {
	var (
		bus   *comm.RegisterBus
		reset adns3080.ResetPin
	)
	if c.Mock {
		sim := adns3080.NewSimulator(time.Now().UnixNano())
		bus, reset = comm.NewRegisterBus(sim, nil), sim
	} else {
		var err error
		bus, err = comm.OpenSPI(c.SPI)
		if err != nil {
			return nil, nil, err
		}
		pin, err := lookupPin(c.Sensor.ResetPin)
		if err != nil {
			bus.Close()
			return nil, nil, fmt.Errorf("sensor reset: %w", err)
		}
		reset = pin
	}
	s, err := adns3080.New(bus, reset)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return bus, s, nil
}

// OpenRig opens everything.  A sensor failure is only fatal if the sensor is required.
func OpenRig(c Config) (*Rig, error) {
	drv, p, err := OpenMotor(c)
	if err != nil {
		return nil, err
	}
	r := &Rig{Driver: drv, Pump: p}
	r.Bus, r.Sensor, err = OpenSensor(c)
	if err != nil {
		if c.Sensor.Required {
			drv.Disable()
			return nil, err
		}
		log.Printf("sensor unavailable, serving the pump alone: %v", err)
	}
	return r, nil
}

// Close releases the bus and then puts the motor to sleep.  Stop polling first.
func (r *Rig) Close() error {
	var busErr error
	if r.Bus != nil {
		busErr = r.Bus.Close()
	}
	motorErr := r.Driver.Disable()
	if busErr != nil {
		return busErr
	}
	return motorErr
}

// BuildMux mounts the sensor routes (when there is a poller) under /sensor and
// the pump routes under /pump behind a lock.  /endpoints lists everything.
func BuildMux(p *pump.Pump, poller *tracker.Poller, stream http.Handler, rec *imgrec.Recorder) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	mount := func(stem string, h generichttp.HTTPer, mw ...func(http.Handler) http.Handler) {
		stem = generichttp.SubMuxSanitize(stem)
		supergraph[stem] = h.RT().Endpoints()
		r := chi.NewRouter()
		r.Use(mw...)
		h.RT().Bind(r)
		root.Mount(stem, r)
	}

	if poller != nil {
		mount("sensor", tracker.NewHTTPWrapper(poller, stream, rec))
	}
	pumpHTTP := motion.NewHTTPPump(p)
	lock := locker.New()
	locker.Inject(pumpHTTP, lock)
	mount("pump", pumpHTTP, lock.Check)

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	return root
}
