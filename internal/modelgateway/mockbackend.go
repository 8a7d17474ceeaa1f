package modelgateway

import "context"

// MockBackend is a canned-response ModelBackend for tests, matching the
// teacher's mockEvaluator in daemon_test.go.
type MockBackend struct {
	Response ModelResponse
	Err      error
	Called   int
}

func (m *MockBackend) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	m.Called++
	return m.Response, m.Err
}
