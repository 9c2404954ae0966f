package comm

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIConfig describes how to open a port on the SBC
type SPIConfig struct {
	// Device is the periph port name, e.g. "SPI0.0" or "/dev/spidev0.0".
	// Empty picks the first port registered.
	Device string `yaml:"device" koanf:"device"`

	// SpeedHz is the clock rate
	SpeedHz int64 `yaml:"speed_hz" koanf:"speed_hz"`

	// Mode is the SPI mode, 0 through 3
	Mode int `yaml:"mode" koanf:"mode"`
}

// DefaultSPIConfig is chip select 0, mode 3 at 500 kHz
func DefaultSPIConfig() SPIConfig {
	return SPIConfig{Device: "SPI0.0", SpeedHz: 500000, Mode: 3}
}

// OpenSPI initializes the host drivers and opens an SPI port as a RegisterBus.
// Opening is retried with an exponential backoff for a few seconds, since
// spidev nodes can appear late after boot.
func OpenSPI(cfg SPIConfig) (*RegisterBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host")
	}
	var (
		port spi.PortCloser
		conn spi.Conn
	)
	op := func() error {
		p, err := spireg.Open(cfg.Device)
		if err != nil {
			return err
		}
		c, err := p.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode(cfg.Mode), 8)
		if err != nil {
			p.Close()
			return err
		}
		port, conn = p, c
		return nil
	}
	if err := retry(op); err != nil {
		return nil, errors.Wrapf(err, "opening spi port %q", cfg.Device)
	}
	return NewRegisterBus(conn, port), nil
}
