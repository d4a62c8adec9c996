package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/foreigner-chat/chatload/internal/engine"
)

// EncodeJSON writes s as indented JSON.
func EncodeJSON(w io.Writer, s *engine.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(s)
}

// WriteJSON exports s to path. A path of "-" writes to stdout.
func WriteJSON(s *engine.Summary, path string) error {
	if path == "-" {
		return EncodeJSON(os.Stdout, s)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := EncodeJSON(f, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Close()
}
