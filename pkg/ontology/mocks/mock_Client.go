// Package mocks provides test doubles for the ontology client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	ontology "github.com/proethica/ontextract/pkg/ontology"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// GetEntitiesByCategory provides a mock function with given fields: ctx, category
func (_m *MockClient) GetEntitiesByCategory(ctx context.Context, category string) ([]ontology.EntitySummary, error) {
	ret := _m.Called(ctx, category)

	if len(ret) == 0 {
		panic("no return value specified for GetEntitiesByCategory")
	}

	var r0 []ontology.EntitySummary
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]ontology.EntitySummary, error)); ok {
		return rf(ctx, category)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []ontology.EntitySummary); ok {
		r0 = rf(ctx, category)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]ontology.EntitySummary)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, category)
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
