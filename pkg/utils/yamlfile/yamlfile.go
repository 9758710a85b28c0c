package yamlfile

import (
	"errors"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Load decodes the YAML document at path into v. Unknown keys are an error so that
// a misspelled field does not silently fall back to its default. An empty file leaves v as is.
func Load(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return goerr.Wrap(err, "failed to open YAML file", goerr.V("path", path))
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return goerr.Wrap(err, "failed to parse YAML file", goerr.V("path", path))
	}
	return nil
}
