// Package mocks provides test doubles for the adform clients.
package mocks

import (
	"context"
	"io"
	"iter"

	mock "github.com/stretchr/testify/mock"

	"github.com/sells-group/adform-extractor/internal/model"
	adform "github.com/sells-group/adform-extractor/pkg/adform"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Files provides a mock function with given fields: ctx, setupID
func (_m *MockClient) Files(ctx context.Context, setupID string) iter.Seq2[model.RemoteFile, error] {
	ret := _m.Called(ctx, setupID)

	if len(ret) == 0 {
		panic("no return value specified for Files")
	}

	var r0 iter.Seq2[model.RemoteFile, error]
	if rf, ok := ret.Get(0).(func(context.Context, string) iter.Seq2[model.RemoteFile, error]); ok {
		r0 = rf(ctx, setupID)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(iter.Seq2[model.RemoteFile, error])
	}

	return r0
}

// Download provides a mock function with given fields: ctx, setupID, fileID
func (_m *MockClient) Download(ctx context.Context, setupID string, fileID string) (io.ReadCloser, error) {
	ret := _m.Called(ctx, setupID, fileID)

	if len(ret) == 0 {
		panic("no return value specified for Download")
	}

	var r0 io.ReadCloser
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (io.ReadCloser, error)); ok {
		return rf(ctx, setupID, fileID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) io.ReadCloser); ok {
		r0 = rf(ctx, setupID, fileID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(io.ReadCloser)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, setupID, fileID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}

// MockTokenClient is a mock type for the TokenClient interface.
type MockTokenClient struct {
	mock.Mock
}

// Refresh provides a mock function with given fields: ctx, clientID, clientSecret, refreshToken
func (_m *MockTokenClient) Refresh(ctx context.Context, clientID string, clientSecret string, refreshToken string) (*adform.TokenResponse, error) {
	ret := _m.Called(ctx, clientID, clientSecret, refreshToken)

	if len(ret) == 0 {
		panic("no return value specified for Refresh")
	}

	var r0 *adform.TokenResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) (*adform.TokenResponse, error)); ok {
		return rf(ctx, clientID, clientSecret, refreshToken)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) *adform.TokenResponse); ok {
		r0 = rf(ctx, clientID, clientSecret, refreshToken)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*adform.TokenResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, clientID, clientSecret, refreshToken)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockTokenClient creates a new instance of MockTokenClient.
func NewMockTokenClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTokenClient {
	mock := &MockTokenClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
