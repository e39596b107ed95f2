package components

import "fmt"

// Object shapes understood by the engine.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapeCuboid    = "cuboid"
)

// DummyObject is passive geometry: it collects or blocks particles but never emits them.
type DummyObject struct {
	Name        string     `yaml:"name"`
	Shape       string     `yaml:"shape"`
	Position    [3]float64 `yaml:"position"`    // m
	Orientation [3]float64 `yaml:"orientation"` // deg
	Size        [3]float64 `yaml:"size"`        // m
	// SaveAveragedData makes the engine write a deposition matrix for this object.
	SaveAveragedData bool   `yaml:"save_averaged_data"`
	Grid             [2]int `yaml:"grid,flow"`
}

func (o DummyObject) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("object: name is required")
	}
	switch o.Shape {
	case ShapeRectangle, ShapeCircle, ShapeCuboid, ShapeCylinder:
	default:
		return fmt.Errorf("object %s: unknown shape %q", o.Name, o.Shape)
	}
	if o.SaveAveragedData && (o.Grid[0] <= 0 || o.Grid[1] <= 0) {
		return fmt.Errorf("object %s: grid must be positive when saving averaged data, got %v", o.Name, o.Grid)
	}
	return nil
}
