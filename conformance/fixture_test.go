package conformance

import (
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// loadExpectedMethods reads the "expected" section of a txtar fixture as a
// list of host-to-service method names, one per line, blanks dropped.
func loadExpectedMethods(t *testing.T, name string) []string {
	t.Helper()
	archive, err := txtar.ParseFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	for _, f := range archive.Files {
		if f.Name != "expected" {
			continue
		}
		var methods []string
		for _, line := range strings.Split(string(f.Data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				methods = append(methods, line)
			}
		}
		return methods
	}
	t.Fatalf("fixture %s has no 'expected' section", name)
	return nil
}
