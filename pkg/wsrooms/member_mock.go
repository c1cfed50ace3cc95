package wsrooms

import (
	"github.com/stretchr/testify/mock"
)

// Mock for Member
type MemberMock struct {
	mock.Mock
}

// Factory
func NewMemberMock() *MemberMock {
	return &MemberMock{
		Mock: mock.Mock{},
	}
}

// ID returns the member unique identifier.
func (mock *MemberMock) ID() string {
	args := mock.Called()
	return args.String(0)
}

// # Description
//
// Deliver hands the payload to the member. A successful mocked delivery releases the reference
// it received so that reference counts can be asserted by tests.
func (mock *MemberMock) Deliver(payload *SharedPayload) error {
	args := mock.Called(payload)
	err := args.Error(0)
	if err == nil {
		payload.Release()
	}
	return err
}
