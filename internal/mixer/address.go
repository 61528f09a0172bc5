package mixer

import (
	"fmt"
	"math"
)

// Mixer geometry.
const (
	// NumChannels is the number of input channels with bus sends.
	NumChannels = 16

	// NumBuses is the number of aux buses.
	NumBuses = 6
)

// Level constants in device units.
const (
	// MinLevel is the bottom of the fader.
	MinLevel = 0.0

	// MaxLevel is the top of the fader (+10 dB on the console).
	MaxLevel = 1.0

	// UnmuteLevel is the fader position the console shows as 0 dB.
	UnmuteLevel = 0.75

	// NoiseThreshold is the smallest level delta that produces a
	// change notification.
	NoiseThreshold = 0.001
)

// Control addresses sent by the keep-alive timer.
const (
	addrXRemote = "/xremote"
	addrInfo    = "/info"
)

// Clamp limits a level to [MinLevel, MaxLevel]. NaN is treated as MinLevel.
func Clamp(level float64) float64 {
	switch {
	case math.IsNaN(level), level < MinLevel:
		return MinLevel
	case level > MaxLevel:
		return MaxLevel
	default:
		return level
	}
}

func exceedsNoise(previous, next float64) bool {
	return math.Abs(previous-next) > NoiseThreshold
}

// ValidateChannel returns ErrConstraintViolation for channels outside 1..NumChannels.
func ValidateChannel(channel int) error {
	if channel < 1 || channel > NumChannels {
		return fmt.Errorf("%w: channel %d out of range [1,%d]", ErrConstraintViolation, channel, NumChannels)
	}
	return nil
}

// ValidateBus returns ErrConstraintViolation for buses outside 1..NumBuses.
func ValidateBus(bus int) error {
	if bus < 1 || bus > NumBuses {
		return fmt.Errorf("%w: bus %d out of range [1,%d]", ErrConstraintViolation, bus, NumBuses)
	}
	return nil
}

func validateCell(channel, bus int) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	return ValidateBus(bus)
}

// channelLevelAddress returns the send level address, e.g. /ch/05/mix/02/level.
func channelLevelAddress(channel, bus int) string {
	return fmt.Sprintf("/ch/%02d/mix/%02d/level", channel, bus)
}

// busFaderAddress returns the bus master address, e.g. /bus/1/mix/fader.
func busFaderAddress(bus int) string {
	return fmt.Sprintf("/bus/%d/mix/fader", bus)
}

func channelNameAddress(channel int) string {
	return fmt.Sprintf("/ch/%02d/config/name", channel)
}

func busNameAddress(bus int) string {
	return fmt.Sprintf("/bus/%d/config/name", bus)
}
