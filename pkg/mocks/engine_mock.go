// Package mocks provides testify mocks of the engine-facing interfaces.
package mocks

import (
	"context"
	"io"

	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/stretchr/testify/mock"
)

// MockResolver is a mock implementation of engine.Resolver interface.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Open(ctx context.Context, representation refs.Representation) (io.ReadCloser, error) {
	args := m.Called(ctx, representation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// MockEngine is a mock implementation of engine.Engine interface. Result
// callbacks passed to OnResult are kept so tests can fire them with Emit.
type MockEngine struct {
	mock.Mock

	results []engine.ResultFunc
}

func (m *MockEngine) Push(ctx context.Context, port string, token engine.Token) error {
	args := m.Called(ctx, port, token)

	return args.Error(0)
}

func (m *MockEngine) OnResult(fn engine.ResultFunc) {
	m.Called(fn)
	m.results = append(m.results, fn)
}

func (m *MockEngine) Start(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Pause(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Resume(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) Cancel(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// Emit fires every registered result callback.
func (m *MockEngine) Emit(ctx context.Context, address []string, port string, index []int, ref refs.Reference) {
	for _, fn := range m.results {
		fn(ctx, address, port, index, ref)
	}
}
