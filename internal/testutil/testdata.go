// Package testutil holds shared test fixtures and loaders.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// LoadJSON reads and unmarshals a JSON fixture from the testdata directory
// next to this package. If target is provided, the JSON is also unmarshaled
// into it.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	var result map[string]any

	_, currentFile, _, _ := runtime.Caller(0)
	dir := filepath.Dir(currentFile)

	data, err := os.ReadFile(filepath.Join(dir, "testdata", filename))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		err = json.Unmarshal(data, target[0])
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}
