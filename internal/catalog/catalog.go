// Package catalog loads the ordered list of items to price.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmpty means there is nothing to sweep.
var ErrEmpty = errors.New("catalog is empty")

// Load reads a JSON array of item names. Order is preserved; blank entries and
// repeated names are dropped so every item gets exactly one disposition per sweep.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON array of item names.
func Parse(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	items := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		items = append(items, name)
	}
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return items, nil
}
