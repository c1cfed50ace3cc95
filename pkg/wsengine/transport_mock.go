package wsengine

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// Mock for Transport
type TransportMock struct {
	mock.Mock
}

// Factory
func NewTransportMock() *TransportMock {
	return &TransportMock{
		Mock: mock.Mock{},
	}
}

// Read reads data from the transport.
func (mock *TransportMock) Read(p []byte) (int, error) {
	args := mock.Called(p)
	return args.Int(0), args.Error(1)
}

// Write writes data to the transport.
func (mock *TransportMock) Write(p []byte) (int, error) {
	args := mock.Called(p)
	return args.Int(0), args.Error(1)
}

// Close closes the transport.
func (mock *TransportMock) Close() error {
	args := mock.Called()
	return args.Error(0)
}

// SetReadDeadline sets the read deadline.
func (mock *TransportMock) SetReadDeadline(t time.Time) error {
	args := mock.Called(t)
	return args.Error(0)
}

// SetWriteDeadline sets the write deadline.
func (mock *TransportMock) SetWriteDeadline(t time.Time) error {
	args := mock.Called(t)
	return args.Error(0)
}
