package sinfile

import "github.com/3cpo-dev/sputra/internal/components"

// Writer serializes one engine input per call.
type Writer struct{}

// WriteConfig writes a ".sin" file at path with active as the only particle
// source and passive as inert geometry. Results of the run go to outputDir.
func (Writer) WriteConfig(outputDir string, ch *components.Chamber, active *components.Magnetron, passive []components.DummyObject, path string) error {
	objects := make([]components.DummyObject, len(passive))
	copy(objects, passive)
	return Write(path, &Document{
		OutputPath: outputDir,
		Chamber:    ch,
		Magnetron:  active,
		Objects:    objects,
	})
}
