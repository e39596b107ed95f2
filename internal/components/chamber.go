package components

import (
	"fmt"
	"math/rand"
)

// MaxSeed is the exclusive upper bound for engine seed numbers.
const MaxSeed = 1<<31 - 1

// Chamber shapes understood by the engine.
const (
	ShapeBox      = "box"
	ShapeCylinder = "cylinder"
)

// Chamber describes the enclosing vacuum chamber and the gas environment.
type Chamber struct {
	Name        string     `yaml:"name"`
	Shape       string     `yaml:"shape"`
	Size        [3]float64 `yaml:"size"`        // m
	Temperature float64    `yaml:"temperature"` // K
	Pressure    float64    `yaml:"pressure"`    // Pa
	Gas         string     `yaml:"gas"`
	SeedNumber  int        `yaml:"seed_number"`
}

// AssignNewSeed draws a fresh seed number so repeated runs are independent.
func (c *Chamber) AssignNewSeed(rng *rand.Rand) int {
	c.SeedNumber = 1 + rng.Intn(MaxSeed-1)
	return c.SeedNumber
}

func (c *Chamber) Validate() error {
	switch c.Shape {
	case ShapeBox, ShapeCylinder:
	default:
		return fmt.Errorf("chamber: unknown shape %q", c.Shape)
	}
	for i, s := range c.Size {
		if s <= 0 {
			return fmt.Errorf("chamber: size[%d] must be positive, got %g", i, s)
		}
	}
	if c.Temperature <= 0 {
		return fmt.Errorf("chamber: temperature must be positive, got %g", c.Temperature)
	}
	if c.Pressure <= 0 {
		return fmt.Errorf("chamber: pressure must be positive, got %g", c.Pressure)
	}
	if c.Gas == "" {
		return fmt.Errorf("chamber: gas is required")
	}
	if c.SeedNumber < 0 {
		return fmt.Errorf("chamber: seed number must not be negative, got %d", c.SeedNumber)
	}
	return nil
}
