package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter emits the report as indented JSON.
type JSONFormatter struct{}

var _ Formatter = (*JSONFormatter)(nil)

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
