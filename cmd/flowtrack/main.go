package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/syringelab/flowtrack/generichttp/stream"
	"github.com/syringelab/flowtrack/imgrec"
	"github.com/syringelab/flowtrack/mqttpub"
	"github.com/syringelab/flowtrack/pump"
	"github.com/syringelab/flowtrack/stepper"
	"github.com/syringelab/flowtrack/tracker"
	"github.com/syringelab/flowtrack/ui"
	"github.com/syringelab/flowtrack/util"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "flowtrack.yml"

	// EnvPrefix marks environment variables that override the config file
	EnvPrefix = "FLOWTRACK_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `flowtrack follows an ADNS-3080 optical flow sensor and drives a stepper syringe pump.
It exposes both over HTTP and can show a desktop window.

Usage:
	flowtrack <command>

Commands:
	run
	help
	mkconf
	conf
	version
	rates
	pulse [cw|ccw] [seconds]
	shell`
	fmt.Println(str)
}

func help() {
	str := `flowtrack is amenable to configuration via its .yml file, written with defaults by
mkconf.  Any key may be overridden from the environment, for example
FLOWTRACK_SENSOR_INTERVAL=20ms sets sensor.interval and FLOWTRACK_MOCK=true
runs without hardware.

Pins are periph names, such as GPIO18.  The SPI device is a periph port name
such as SPI0.0.

Routes:
	/sensor/mode, /sensor/position, /sensor/trail, /sensor/stats,
	/sensor/session, /sensor/frame, /sensor/stream, /sensor/autosave/*
	/pump/enabled, /pump/resolution, /pump/frequency, /pump/frequencies,
	/pump/flow-rate, /pump/flow-rates, /pump/pulse, /pump/lock
	/endpoints

When mqtt.broker is set, positions, frames and mode changes are published under
mqtt.topic, and a payload of image or motion on <topic>/mode/set changes mode.`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadConfig()
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("flowtrack version %v\n", Version)
}

func rates() {
	c := loadConfig()
	sc := c.Motor.Stepper()
	freqs, err := stepper.Frequencies(sc.SampleRateUS)
	if err != nil {
		log.Fatal(err)
	}
	offer := pump.FlowRates(c.Pump, sc.Resolution, freqs)
	offered := make([]int, len(offer))
	for i, r := range offer {
		offered[i] = r.FrequencyHz
	}
	fmt.Printf("sample rate %d us, 1/%d step\n", sc.SampleRateUS, sc.Resolution)
	fmt.Printf("available: %s\n", util.IntSliceToCSV(freqs))
	fmt.Printf("offered:   %s\n", util.IntSliceToCSV(offered))
	for _, r := range offer {
		fmt.Printf("%6d Hz  %6.3f rps  %.5f ml/s\n", r.FrequencyHz, r.RPS, r.MLPerSecond)
	}
}

// parsePulse reads [cw|ccw] [seconds] over the configured default
func parsePulse(c Config, args []string) (stepper.Command, error) {
	cmd, err := c.Pulse()
	if err != nil {
		return cmd, err
	}
	if len(args) > 0 {
		if cmd.Direction, err = stepper.ParseDirection(args[0]); err != nil {
			return cmd, err
		}
	}
	if len(args) > 1 {
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return cmd, err
		}
		cmd.Duration = util.SecsToDuration(secs)
	}
	return cmd, nil
}

func pulse(args []string) error {
	c := loadConfig()
	cmd, err := parsePulse(c, args)
	if err != nil {
		return err
	}
	drv, p, err := OpenMotor(c)
	if err != nil {
		return err
	}
	return pulseThenSleep(drv, p, cmd, yacspin.New)
}

// pulseThenSleep runs one pulse behind a spinner.  The driver is put to sleep
// on every path out.
func pulseThenSleep(drv *stepper.Driver, p *pump.Pump, cmd stepper.Command, newSpinner func(yacspin.Config) (*yacspin.Spinner, error)) (err error) {
	defer func() {
		if derr := drv.Disable(); derr != nil && err == nil {
			err = derr
		}
	}()

	spinner, err := newSpinner(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           fmt.Sprintf("pumping %s for %v at %g ml/s", cmd.Direction, cmd.Duration, p.FlowRate()),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	spinner.Start()
	vol, err := p.Dispense(cmd.Direction, cmd.Duration)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.StopMessage(fmt.Sprintf("moved %.5f ml", vol))
	spinner.Stop()
	return nil
}

// run wires the rig, poller, displays and HTTP server together and blocks
// until interrupted, the window is closed, or polling gives up.
func run() error {
	c := loadConfig()
	tc, err := c.Tracker()
	if err != nil {
		return err
	}
	pulseCmd, err := c.Pulse()
	if err != nil {
		return err
	}
	rig, err := OpenRig(c)
	if err != nil {
		return err
	}
	// last out: close the bus, then sleep the motor
	defer func() {
		if err := rig.Close(); err != nil {
			log.Printf("teardown: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	hub := stream.NewHub()
	defer hub.Close()
	rec := imgrec.New(c.Recorder)

	var poller *tracker.Poller
	if rig.Sensor != nil {
		poller = tracker.NewPoller(rig.Sensor, tc)
		session := poller.Session().String()
		poller.AddDisplay(tracker.EventDisplay{Pub: hub, Session: session})
		if c.MQTT.Broker != "" {
			pub, err := mqttpub.New(c.MQTT, session)
			if err != nil {
				log.Printf("mqtt disabled: %v", err)
			} else {
				defer pub.Close()
				poller.AddDisplay(pub)
				if err := pub.OnModeRequest(poller.SetMode); err != nil {
					log.Printf("mqtt mode requests disabled: %v", err)
				}
			}
		}
		log.Printf("tracking session %s", session)
	}

	var window *ui.Display
	if c.UI {
		window = ui.New("flowtrack", ui.Callbacks{
			Stop: stopPolling,
			ToggleMode: func() tracker.Mode {
				if poller == nil {
					return tracker.ModeImageCapture
				}
				return poller.ToggleMode()
			},
			Pulse: func() error {
				_, err := rig.Pump.Dispense(pulseCmd.Direction, pulseCmd.Duration)
				return err
			},
		})
		if poller != nil {
			poller.AddDisplay(window)
		}
	}

	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(rig.Pump, poller, hub, rec)}
	srvErr := make(chan error, 1)
	go func() {
		log.Println("now listening for requests at ", c.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	pollDone := make(chan error, 1)
	if poller != nil {
		go func() {
			err := poller.Run(pollCtx)
			if window != nil {
				window.Stopped()
			}
			pollDone <- err
		}()
	} else {
		close(pollDone)
	}

	if window != nil {
		window.Run(ctx)
		cancel()
	}

	var (
		runErr error
		polled bool
	)
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		runErr = err
	case err := <-pollDone:
		polled = true
		// polling stopped on its own; keep serving the pump until interrupted
		if err != nil {
			log.Printf("polling stopped: %v", err)
			if c.Sensor.Required {
				runErr = err
				break
			}
		}
		select {
		case <-ctx.Done():
		case runErr = <-srvErr:
		}
	}

	// teardown order: stop polling, then the deferred rig.Close
	stopPolling()
	if poller != nil && !polled {
		<-pollDone
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	if errors.Is(runErr, http.ErrServerClosed) {
		runErr = nil
	}
	return runErr
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		if err := run(); err != nil {
			log.Fatal(err)
		}
		return
	case "version":
		pversion()
		return
	case "rates":
		rates()
		return
	case "pulse":
		if err := pulse(args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	case "shell":
		if err := shell(); err != nil {
			log.Fatal(err)
		}
		return
	default:
		log.Fatal("unknown command")
	}
}
