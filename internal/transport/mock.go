package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pagesmith/pagesync/internal/models"
)

// MockTransport provides a scripted implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration
	Batches        []*models.DeltaBatch
	PushResults    []*models.PushResult
	ServerChecksum string
	Notices        []models.ChangeNotice

	// Error injection
	FetchError    error
	PushError     error
	ChecksumError error
	WatchError    error

	// Remaining FetchError occurrences before fetches succeed; 0 means
	// the error persists.
	FetchFailures int

	// Request tracking
	FetchRequests []FetchRequest
	PushRequests  [][]models.DeltaData

	// State
	token      string
	batchIndex int
	pushIndex  int
}

// FetchRequest tracks a FetchDeltas call.
type FetchRequest struct {
	Since  time.Time
	Cursor string
	Limit  int
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// AddBatch scripts the next delta batch.
func (m *MockTransport) AddBatch(batch *models.DeltaBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, batch)
}

// AddPushResult scripts the next push response.
func (m *MockTransport) AddPushResult(result *models.PushResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PushResults = append(m.PushResults, result)
}

// FetchDeltas returns the next scripted batch.
func (m *MockTransport) FetchDeltas(ctx context.Context, since time.Time, cursor string, limit int) (*models.DeltaBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchRequests = append(m.FetchRequests, FetchRequest{Since: since, Cursor: cursor, Limit: limit})

	if m.FetchError != nil {
		err := m.FetchError
		if m.FetchFailures > 0 {
			m.FetchFailures--
			if m.FetchFailures == 0 {
				m.FetchError = nil
			}
		}
		return nil, err
	}

	if m.batchIndex >= len(m.Batches) {
		return &models.DeltaBatch{Checksum: m.ServerChecksum}, nil
	}

	batch := m.Batches[m.batchIndex]
	m.batchIndex++
	return batch, nil
}

// FetchCount reports how many fetch calls the mock has served.
func (m *MockTransport) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FetchRequests)
}

// PushChanges returns the next scripted push result.
func (m *MockTransport) PushChanges(ctx context.Context, changes []models.DeltaData) (*models.PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PushRequests = append(m.PushRequests, changes)

	if m.PushError != nil {
		return nil, m.PushError
	}

	if m.pushIndex < len(m.PushResults) {
		result := m.PushResults[m.pushIndex]
		m.pushIndex++
		return result, nil
	}

	// Default: everything succeeds.
	result := &models.PushResult{}
	for _, change := range changes {
		result.Succeeded = append(result.Succeeded, change.EntityID)
	}
	return result, nil
}

// FetchChecksum returns the configured server checksum.
func (m *MockTransport) FetchChecksum(ctx context.Context, ts time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ChecksumError != nil {
		return "", m.ChecksumError
	}
	return m.ServerChecksum, nil
}

// WatchChanges streams the scripted notices then closes.
func (m *MockTransport) WatchChanges(ctx context.Context) (<-chan models.ChangeNotice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WatchError != nil {
		return nil, m.WatchError
	}

	ch := make(chan models.ChangeNotice, len(m.Notices))
	for _, notice := range m.Notices {
		ch <- notice
	}
	close(ch)
	return ch, nil
}

// SetToken stores the token.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the stored token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close is a no-op.
func (m *MockTransport) Close() error {
	return nil
}
