package components

import "fmt"

// Magnetron is a sputter cathode. It is the particle source of a run when
// active and plain geometry (its Object) when another magnetron is active.
type Magnetron struct {
	Object              DummyObject `yaml:"object"`
	Element             string      `yaml:"element"`
	Particles           int64       `yaml:"particles"`
	MaxIonEnergy        float64     `yaml:"max_ion_energy"` // eV
	Racetrack           string      `yaml:"racetrack,omitempty"`
	AngularDistribution string      `yaml:"angular_distribution,omitempty"`
}

// Name returns the magnetron's intrinsic name, the name of its geometry object.
func (m *Magnetron) Name() string { return m.Object.Name }

// Geometry returns the passive representation used when the magnetron is not the source.
func (m *Magnetron) Geometry() DummyObject { return m.Object }

func (m *Magnetron) Validate() error {
	if err := m.Object.Validate(); err != nil {
		return fmt.Errorf("magnetron: %w", err)
	}
	if m.Element == "" {
		return fmt.Errorf("magnetron %s: element is required", m.Name())
	}
	if m.Particles <= 0 {
		return fmt.Errorf("magnetron %s: particles must be positive, got %d", m.Name(), m.Particles)
	}
	if m.MaxIonEnergy < 0 {
		return fmt.Errorf("magnetron %s: max ion energy must not be negative, got %g", m.Name(), m.MaxIonEnergy)
	}
	return nil
}
