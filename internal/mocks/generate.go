// Package mocks provides mock implementations for testing the session
// gateway ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks
// for the port interfaces. To regenerate after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockProfileStore(ctrl)
//	store.EXPECT().FetchByUserID(gomock.Any(), "user-1").Return(profile, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=ports_mock.go github.com/estoqueflow/sessiongate/internal/ports ProfileStore,TokenStore,AuthProvider
