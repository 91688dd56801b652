// Package mocks provides gomock implementations of the session core's ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	backend := mocks.NewMockBackend(ctrl)
//	backend.EXPECT().ProvisionGuest(gomock.Any(), "02:aa:bb:cc:dd:ee").Return(grant, nil)
package mocks

// Generate mocks for the Backend and KVStore interfaces from internal/ports.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/portal-session/internal/ports Backend,KVStore
