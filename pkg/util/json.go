package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawJSONProvider is implemented by API response types that keep the raw response body.
type RawJSONProvider interface {
	RawJSON() string
}

// PrintPrettyJSON prints the raw JSON of an API response with indentation.
// An empty body prints as {}.
func PrintPrettyJSON(v RawJSONProvider) error {
	raw := v.RawJSON()
	if raw == "" {
		fmt.Println("{}")
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}

// PrintJSON marshals v with indentation and prints it.
func PrintJSON(v any) error {
	out, err := MarshalJSON(v)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// MarshalJSON encodes v without escaping &, <, > as \u0026, \u003c, \u003e,
// which would break copy/paste of the signed URLs we print.
func MarshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
