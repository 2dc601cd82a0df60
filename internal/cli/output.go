package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/maruel/leafdb"
)

// parseObject decodes a JSON object given on the command line.
func parseObject(what, s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON object", what)
	}
	return m, nil
}

// writeDocs prints docs as JSON lines.
func writeDocs(w io.Writer, docs ...leafdb.Document) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to write document: %w", err)
		}
	}
	return nil
}
