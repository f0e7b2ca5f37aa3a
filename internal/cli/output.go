package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// write prints v as indented JSON for --format json and as YAML otherwise.
func write(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeLine(w io.Writer, format string, line string, v any) error {
	if format == "json" {
		return write(w, format, v)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
