package limiter

import (
	"context"

	"github.com/stretchr/testify/mock"
)

var _ Limiter = (*MockLimiter)(nil)

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}
