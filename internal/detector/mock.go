package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// MockLocator is a test implementation of the Detector interface.
// It allows tests to control the match results per template name.
type MockLocator struct {
	results map[string]MatchResult
	calls   int
}

// NewMockLocator creates a new MockLocator that misses every template.
func NewMockLocator() *MockLocator {
	return &MockLocator{results: make(map[string]MatchResult)}
}

// SetResult sets the result returned for r.Name.
func (m *MockLocator) SetResult(r MatchResult) {
	m.results[r.Name] = r
}

// Clear forgets every configured result.
func (m *MockLocator) Clear() {
	m.results = make(map[string]MatchResult)
}

// Calls returns how many times Locate was invoked.
func (m *MockLocator) Calls() int {
	return m.calls
}

// Locate returns the configured result for each template, or a miss.
func (m *MockLocator) Locate(frame gocv.Mat, window image.Rectangle, templates []*Template) []MatchResult {
	m.calls++

	results := make([]MatchResult, 0, len(templates))
	for _, t := range templates {
		r, ok := m.results[t.Name]
		if !ok {
			r = MatchResult{Name: t.Name, Size: t.Size()}
		}
		results = append(results, r)
	}
	return results
}

// Hit builds a hit result for a template of the given size at loc.
func Hit(name string, loc, size image.Point) MatchResult {
	return MatchResult{Name: name, Location: loc, Size: size, Score: 1, Hit: true}
}
