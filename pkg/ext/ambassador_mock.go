package ext

import (
	"io"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockAmbassador struct {
	mock.Mock
}

func NewMockAmbassador() *MockAmbassador {
	return &MockAmbassador{}
}

func (m *MockAmbassador) Open(name string) (io.ReadCloser, error) {
	args := m.Called(name)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockAmbassador) ModTime(name string) (time.Time, error) {
	args := m.Called(name)
	return args.Get(0).(time.Time), args.Error(1)
}
