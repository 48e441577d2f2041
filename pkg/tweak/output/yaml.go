package output

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter emits the report as YAML.
type YAMLFormatter struct{}

var _ Formatter = (*YAMLFormatter)(nil)

func init() {
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
