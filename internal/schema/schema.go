// Package schema reads and writes the versioned documents that carry
// snapshots, therapy settings and reservoir histories across the process
// boundary. The engine's own types stay free of serialization concerns;
// every document here converts to and from them explicitly.
package schema

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcode/nightscout-loop/internal/errors"
)

// Version is the document version this package writes and accepts
const Version = 1

// Format is a document encoding
type Format string

// Supported formats
const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidConfiguration, "unsupported format %q (supported: json, yaml)", s)
}

// FormatFor picks the format from a file extension, defaulting to JSON
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Duration is a time.Duration written as a Go duration string ("30m")
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidConfiguration, "duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

// Document is implemented by every top-level document
type Document interface {
	version() int
}

// Decode reads one document from r and checks its version
func Decode(r io.Reader, format Format, doc Document) error {
	var err error
	switch format {
	case YAML:
		err = yaml.NewDecoder(r).Decode(doc)
	default:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		err = dec.Decode(doc)
	}
	if err != nil {
		return errors.Wrap(errors.Mark(err, errors.ErrInvalidConfiguration), "decoding document")
	}
	if v := doc.version(); v != Version {
		return errors.WithHint(
			errors.Wrapf(errors.ErrInvalidConfiguration, "unsupported document version %d", v),
			"set \"version: 1\" at the top of the document")
	}
	return nil
}

// ReadFile decodes the document at path, choosing the format by extension
func ReadFile(path string, doc Document) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if err := Decode(bytes.NewReader(data), FormatFor(path), doc); err != nil {
		return errors.Wrapf(err, "in %s", path)
	}
	return nil
}

// Encode writes v to w. JSON output is indented.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "encoding YAML")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encoding JSON")
	}
}

// WriteFile encodes v into path, choosing the format by extension
func WriteFile(path string, v any) error {
	var buf bytes.Buffer
	if err := Encode(&buf, FormatFor(path), v); err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, buf.Bytes(), 0600), "writing %s", path)
}
