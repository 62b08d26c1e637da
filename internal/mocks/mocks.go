// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/recplay/api/schemas"
)

// -- Host Mock --

// MockHost mocks the browser host used by the orchestrator.
type MockHost struct {
	mock.Mock
}

func (m *MockHost) ActiveURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockHost) InjectObserver(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockHost) StopObserver(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- Uploader Mock --

// MockUploader mocks the storage service client and records every upload.
type MockUploader struct {
	mock.Mock

	mu       sync.Mutex
	Received []schemas.Recording
}

func (m *MockUploader) Upload(ctx context.Context, rec schemas.Recording) (*schemas.SaveResult, error) {
	m.mu.Lock()
	m.Received = append(m.Received, rec)
	m.mu.Unlock()

	args := m.Called(ctx, rec)
	var res *schemas.SaveResult
	if v := args.Get(0); v != nil {
		res = v.(*schemas.SaveResult)
	}
	return res, args.Error(1)
}

// Uploads returns a copy of the recordings received so far.
func (m *MockUploader) Uploads() []schemas.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.Recording(nil), m.Received...)
}

// -- Backup Mock --

// MockBackup mocks the durable session slot.
type MockBackup struct {
	mock.Mock
}

func (m *MockBackup) Save(ctx context.Context, sess schemas.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *MockBackup) Load(ctx context.Context) (schemas.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Session), args.Error(1)
}

func (m *MockBackup) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
