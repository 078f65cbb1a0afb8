// Package testsupport holds test helpers shared across packages: fixture and
// golden file access, and Authority, an in-process fake of the catalogue
// authority.
package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// LoadFixture reads a fixture file. path is relative to the test package.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON decodes a JSON fixture into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// SeedBooks adds every book of a JSON fixture to a and returns their ids in
// fixture order. Only title, author and availableCopies are read.
func SeedBooks(t testing.TB, a *Authority, path string) []string {
	t.Helper()

	var books []Book
	LoadFixtureJSON(t, path, &books)
	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, a.AddBook(b.Title, b.Author, b.AvailableCopies))
	}
	return ids
}

// WriteGolden writes data to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// MarshalGolden renders v the way golden JSON files are stored.
func MarshalGolden(t testing.TB, v any) []byte {
	t.Helper()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal golden JSON: %v", err)
	}
	return append(data, '\n')
}

// CompareWithGolden fails the test when actual differs from the golden file.
// A missing golden file is created from actual.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if !bytes.Equal(actual, expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// FixturePath joins filename onto the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath joins filename onto the testdata/golden directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
