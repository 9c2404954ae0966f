package motion

import (
	"net/http"

	"github.com/syringelab/flowtrack/generichttp"
)

// Enabler describes an interface with enable/disable methods for a motor
type Enabler interface {
	// Enable wakes the motor driver
	Enable() error

	// Disable stops the motor and puts the driver to sleep
	Disable() error

	// Enabled is true if the driver is awake
	Enabled() bool
}

// HTTPEnable adds routes for the enabler to the route table
func HTTPEnable(iface Enabler, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/enabled"}] = GetEnabled(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/enabled"}] = SetEnabled(iface)
}

// SetEnabled returns an HTTP handler func from an enabler that enables or disables the motor
func SetEnabled(e Enabler) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return e.Enable()
		}
		return e.Disable()
	})
}

// GetEnabled returns an HTTP handler func from an enabler that returns if the motor is enabled
func GetEnabled(e Enabler) http.HandlerFunc {
	return generichttp.GetBool(func() (bool, error) {
		return e.Enabled(), nil
	})
}
