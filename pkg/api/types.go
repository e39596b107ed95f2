package api

// v0 contains public types for describing sputter systems in YAML.

// SystemSpec describes a multi-magnetron system assembled from component
// files. Relative paths are resolved against the directory of the spec file.
type SystemSpec struct {
	Name       string          `json:"name" yaml:"name"`
	Chamber    string          `json:"chamber" yaml:"chamber"`
	Magnetrons []MagnetronSpec `json:"magnetrons" yaml:"magnetrons"`
	Objects    []string        `json:"objects" yaml:"objects"`
	Output     string          `json:"output" yaml:"output"`
	Runs       int             `json:"runs" yaml:"runs"`
	// IonEnergies overrides the maximum ion energy (eV) per magnetron key.
	IonEnergies map[string]float64 `json:"ion_energies" yaml:"ion_energies"`
}

// MagnetronSpec binds a key to a ".smo" or ".sin" file.
type MagnetronSpec struct {
	Key  string `json:"key" yaml:"key"`
	File string `json:"file" yaml:"file"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)
