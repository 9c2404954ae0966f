package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/syringelab/flowtrack/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func ExampleGetBit() {
	fmt.Println(util.GetBit(0x90, 4), util.GetBit(0x90, 7), util.GetBit(0x90, 0))
	// Output: true true false
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	out := util.SecsToDuration(1.5)
	if out != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", out)
	}
}

func TestAllElementsNumbers(t *testing.T) {
	cases := map[string]bool{
		"10":   true,
		"2.5":  true,
		"10ms": false,
		"":     false,
	}
	for in, expected := range cases {
		if got := util.AllElementsNumbers(in); got != expected {
			t.Errorf("%q: expected %v got %v", in, expected, got)
		}
	}
}
