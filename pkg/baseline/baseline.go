// Package baseline implements the baseline grid: pure spatial math converting
// between pixel space and baseline units and computing snap targets for
// vertical rhythm. All functions are stateless and reentrant.
package baseline

import (
	"fmt"
	"math"
)

// Valid range for a baseline height in pixels.
const (
	MinHeight = 4
	MaxHeight = 32
)

// ConfigurationError reports an invalid baseline parameter. It is returned
// before any state is touched; out-of-range values are never silently clamped.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("baseline configuration invalid: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Config is the per-artboard baseline grid configuration.
type Config struct {
	Height         int  `json:"height"`
	SnapEnabled    bool `json:"snap_enabled"`
	OverlayVisible bool `json:"overlay_visible"`
}

// DefaultConfig returns the grid configuration new artboards start with.
func DefaultConfig() Config {
	return Config{Height: 8, SnapEnabled: true, OverlayVisible: false}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	return checkHeight(c.Height)
}

// Snap snaps px to the grid if snapping is enabled, otherwise returns px
// unchanged. The configuration must have been validated.
func (c Config) Snap(px float64) float64 {
	if !c.SnapEnabled {
		return px
	}
	snapped, _ := SnapToBaseline(px, c.Height)
	return float64(snapped)
}

func checkHeight(height int) error {
	if height < MinHeight || height > MaxHeight {
		return &ConfigurationError{
			Field:  "height",
			Value:  height,
			Reason: fmt.Sprintf("must be an integer in [%d,%d]", MinHeight, MaxHeight),
		}
	}
	return nil
}

// PixelsToBaselineUnits converts a pixel length into baseline units.
func PixelsToBaselineUnits(px float64, height int) (float64, error) {
	if err := checkHeight(height); err != nil {
		return 0, err
	}
	return px / float64(height), nil
}

// BaselineUnitsToPixels converts baseline units into a pixel length.
func BaselineUnitsToPixels(units float64, height int) (float64, error) {
	if err := checkHeight(height); err != nil {
		return 0, err
	}
	return units * float64(height), nil
}

// SnapToBaseline rounds px to the nearest multiple of height.
//
// Tie-break contract: values exactly half a baseline unit between two
// multiples round UP (round-half-up on the multiple index), so
// SnapToBaseline(12, 8) == 16. This is an explicit contract, not an accident
// of floating-point rounding, and is covered by tests.
func SnapToBaseline(px float64, height int) (int, error) {
	if err := checkHeight(height); err != nil {
		return 0, err
	}
	h := float64(height)
	return int(math.Floor(px/h+0.5)) * height, nil
}

// IsAlignedToBaseline reports whether px sits within epsilon of a multiple of
// height.
func IsAlignedToBaseline(px float64, height int, epsilon float64) (bool, error) {
	if err := checkHeight(height); err != nil {
		return false, err
	}
	h := float64(height)
	rem := math.Abs(math.Mod(px, h))
	if rem > h/2 {
		rem = h - rem
	}
	return rem <= epsilon, nil
}

// GridLines returns the ordered offsets of every baseline within an artboard
// of the given pixel height, starting at 0. The sequence is finite and can be
// recomputed from scratch for overlay rendering at any time.
func GridLines(artboardHeight float64, height int) ([]int, error) {
	if err := checkHeight(height); err != nil {
		return nil, err
	}
	if artboardHeight < 0 {
		return nil, &ConfigurationError{
			Field:  "artboard_height",
			Value:  artboardHeight,
			Reason: "must be non-negative",
		}
	}
	lines := make([]int, 0, int(artboardHeight)/height+1)
	for off := 0; float64(off) <= artboardHeight; off += height {
		lines = append(lines, off)
	}
	return lines, nil
}

// SpacingDirection selects the direction of a spacing-unit conversion.
type SpacingDirection int

const (
	// ToBaselineUnits converts a pixel value to baseline units.
	ToBaselineUnits SpacingDirection = iota
	// ToPixels converts a baseline-unit value to pixels.
	ToPixels
)

// ConvertSpacing converts a spacing value between pixels and baseline units,
// for display toggling in property inspectors.
func ConvertSpacing(value float64, height int, dir SpacingDirection) (float64, error) {
	switch dir {
	case ToBaselineUnits:
		return PixelsToBaselineUnits(value, height)
	case ToPixels:
		return BaselineUnitsToPixels(value, height)
	default:
		return 0, &ConfigurationError{
			Field:  "direction",
			Value:  int(dir),
			Reason: "unknown spacing direction",
		}
	}
}
