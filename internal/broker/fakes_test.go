package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/aspect-build/attestbroker/internal/integrity"
)

type fakeManager struct {
	mu          sync.Mutex
	prepares    int
	lastProject int64
	err         error
	tokenErr    error
	gate        chan struct{}
}

func (m *fakeManager) PrepareSession(_ context.Context, projectNumber int64) (integrity.Session, error) {
	m.mu.Lock()
	m.prepares++
	id := m.prepares
	m.lastProject = projectNumber
	gate, err, tokenErr := m.gate, m.err, m.tokenErr
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &fakeSession{id: id, err: tokenErr}, nil
}

func (m *fakeManager) Format() string { return "fake-token" }

func (m *fakeManager) prepareCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepares
}

type fakeSession struct {
	id  int
	err error

	mu     sync.Mutex
	hashes []string
}

func (s *fakeSession) RequestToken(_ context.Context, requestHash string) (string, error) {
	s.mu.Lock()
	s.hashes = append(s.hashes, requestHash)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("token-%d-%s", s.id, requestHash), nil
}

type staticSupport bool

func (s staticSupport) IsSupported() bool { return bool(s) }
