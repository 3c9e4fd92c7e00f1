package store

import (
	"encoding/json"
	"fmt"
)

// marshalDiagnostics converts diagnostics to JSON text for storage.
func marshalDiagnostics(diags []Diagnostic) (string, error) {
	if len(diags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(diags)
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}
	return string(b), nil
}

// unmarshalDiagnostics converts JSON text back to diagnostics.
func unmarshalDiagnostics(s string) ([]Diagnostic, error) {
	if s == "" || s == "null" || s == "[]" {
		return nil, nil
	}
	var diags []Diagnostic
	if err := json.Unmarshal([]byte(s), &diags); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	return diags, nil
}
