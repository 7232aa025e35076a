package mocks

import (
	"context"

	"github.com/dukex/fileflow/pkg/extract"
	"github.com/stretchr/testify/mock"
)

// MockRecordStore is a mock implementation of recordstore.Client.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Create(ctx context.Context, table string, fields map[string]any) (string, error) {
	args := m.Called(ctx, table, fields)

	return args.String(0), args.Error(1)
}

func (m *MockRecordStore) Update(ctx context.Context, table, recordID string, fields map[string]any) (string, error) {
	args := m.Called(ctx, table, recordID, fields)

	return args.String(0), args.Error(1)
}

// MockExtractor is a mock implementation of extract.Extractor.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, fileID string) (*extract.Result, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*extract.Result), args.Error(1)
}
