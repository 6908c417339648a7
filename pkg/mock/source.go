package mock

import (
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

type Source struct {
	mock.Mock
}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Open(key vuln.Key) (io.ReadCloser, error) {
	args := s.Called(key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (s *Source) ModTime(key vuln.Key) (time.Time, error) {
	args := s.Called(key)
	return args.Get(0).(time.Time), args.Error(1)
}
