package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/syringelab/flowtrack/adns3080"
	"github.com/syringelab/flowtrack/tracker"
	"github.com/syringelab/flowtrack/util"
)

// frameArt renders a frame with one character per pixel, darkest first
func frameArt(f adns3080.Frame) string {
	const ramp = " .:-=+*#%@"
	var b strings.Builder
	for y := 0; y < adns3080.PixelsY; y++ {
		for x := 0; x < adns3080.PixelsX; x++ {
			v := int(f.At(x, y))
			b.WriteByte(ramp[v*(len(ramp)-1)/int(adns3080.PixelMask)])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// parseCount reads an optional positive repeat count, 1 when absent
func parseCount(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("count must be at least 1, got %d", n)
	}
	return n, nil
}

// shell is an interactive bench shell over the rig.  Sensor commands talk to
// the chip directly, mode steps a poller one cycle at a time.
func shell() error {
	c := loadConfig()
	tc, err := c.Tracker()
	if err != nil {
		return err
	}
	rig, err := OpenRig(c)
	if err != nil {
		return err
	}
	defer rig.Close()

	var poller *tracker.Poller
	if rig.Sensor != nil {
		poller = tracker.NewPoller(rig.Sensor, tc)
	}
	needSensor := func(ctx *ishell.Context) bool {
		if rig.Sensor == nil {
			ctx.Err(errors.New("no sensor"))
			return false
		}
		return true
	}

	sh := ishell.New()
	sh.Println("flowtrack bench shell")
	sh.ShowPrompt(true)

	sh.AddCmd(&ishell.Cmd{
		Name: "id",
		Help: "reset the sensor and check its product id",
		Func: func(ctx *ishell.Context) {
			if !needSensor(ctx) {
				return
			}
			if err := rig.Sensor.Reset(); err != nil {
				ctx.Err(err)
				return
			}
			id, err := rig.Sensor.Identify()
			if err != nil {
				ctx.Err(err)
				return
			}
			ctx.Printf("product id 0x%02x, match %v\n", id.ProductID, id.Match)
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "config",
		Help: "select 1600 cpi and report the resolution in effect",
		Func: func(ctx *ishell.Context) {
			if !needSensor(ctx) {
				return
			}
			res, err := rig.Sensor.Configure()
			if err != nil {
				ctx.Err(err)
				return
			}
			ctx.Println(res)
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "motion",
		Help: "motion [n]: read n motion bursts",
		Func: func(ctx *ishell.Context) {
			if !needSensor(ctx) {
				return
			}
			n, err := parseCount(ctx.Args)
			if err != nil {
				ctx.Err(err)
				return
			}
			for i := 0; i < n; i++ {
				s, err := rig.Sensor.ReadMotion()
				if err != nil {
					ctx.Err(err)
					continue
				}
				ctx.Println(s)
			}
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "frame",
		Help: "capture a frame and draw it",
		Func: func(ctx *ishell.Context) {
			if !needSensor(ctx) {
				return
			}
			f, err := rig.Sensor.CaptureFrame()
			if err != nil {
				ctx.Err(err)
				return
			}
			ctx.Print(frameArt(f))
			ctx.Printf("crc 0x%04x\n", f.Checksum())
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "mode",
		Help: "mode [image|motion]: switch mode and run one poll cycle",
		Func: func(ctx *ishell.Context) {
			if poller == nil {
				ctx.Err(errors.New("no sensor"))
				return
			}
			if len(ctx.Args) > 0 {
				m, err := tracker.ParseMode(ctx.Args[0])
				if err != nil {
					ctx.Err(err)
					return
				}
				poller.SetMode(m)
			}
			if err := poller.Poll(); err != nil {
				ctx.Err(err)
			}
			ctx.Printf("%s mode, position %+v, %+v\n", poller.Mode(), poller.Position(), poller.Stats())
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "pulse",
		Help: "pulse [cw|ccw] [seconds]",
		Func: func(ctx *ishell.Context) {
			cmd, err := parsePulse(c, ctx.Args)
			if err != nil {
				ctx.Err(err)
				return
			}
			vol, err := rig.Pump.Dispense(cmd.Direction, cmd.Duration)
			if err != nil {
				ctx.Err(err)
				return
			}
			ctx.Printf("moved %.5f ml\n", vol)
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "res",
		Help: "res [1|2|4|8|16|32]: get or set the microstep resolution",
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) > 0 {
				n, err := strconv.Atoi(ctx.Args[0])
				if err != nil {
					ctx.Err(err)
					return
				}
				if _, err := rig.Pump.SetResolution(n); err != nil {
					ctx.Err(err)
				}
			}
			r := rig.Driver.Resolution()
			ctx.Printf("1/%d step, M0 %v (floating %v), M1 %v\n", r.Denominator, r.M0, r.Floating, r.M1)
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "freq",
		Help: "freq [hz]: get or set the step frequency",
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) > 0 {
				hz, err := strconv.Atoi(ctx.Args[0])
				if err != nil {
					ctx.Err(err)
					return
				}
				if err := rig.Pump.SetFrequency(hz); err != nil {
					ctx.Err(err)
				}
			}
			ctx.Printf("%d Hz, %.5f ml/s\n", rig.Pump.Frequency(), rig.Pump.FlowRate())
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "rates",
		Help: "list the offered flow rates",
		Func: func(ctx *ishell.Context) {
			ctx.Println(util.IntSliceToCSV(rig.Pump.Frequencies()))
			for _, r := range rig.Pump.Rates() {
				ctx.Printf("%6d Hz  %.5f ml/s\n", r.FrequencyHz, r.MLPerSecond)
			}
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "sleep",
		Help: "put the motor driver to sleep",
		Func: func(ctx *ishell.Context) {
			if err := rig.Pump.Disable(); err != nil {
				ctx.Err(err)
			}
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "wake",
		Help: "wake the motor driver",
		Func: func(ctx *ishell.Context) {
			if err := rig.Pump.Enable(); err != nil {
				ctx.Err(err)
			}
		},
	})

	sh.Run()
	return nil
}
