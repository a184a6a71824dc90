package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
)

// validateFormat is shared by the inspect and verify PreRunE hooks: Citadel's
// on-disk documents are TOML, not YAML, so the CLI output formats
// mirror that instead of the teacher's json/yaml/text trio.
func validateFormat(format string) error {
	switch format {
	case "text", "json", "toml":
		return nil
	default:
		return fmt.Errorf("unsupported --format %q (supported: text, json, toml)", format)
	}
}

// writeStructured marshals v as JSON or TOML per format, or calls
// textFn to render the text form. Shared by inspect/verify so each
// subcommand only supplies its own text renderer.
func writeStructured(out io.Writer, format string, pretty bool, v interface{}, textFn func(io.Writer) error) error {
	switch format {
	case "text":
		return textFn(out)
	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(v, "", "  ")
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, werr := fmt.Fprintln(out, string(b))
		return werr
	case "toml":
		b, err := toml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal toml: %w", err)
		}
		_, werr := out.Write(b)
		return werr
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
