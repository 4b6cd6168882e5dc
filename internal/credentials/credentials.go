// Package credentials provides read-only lookups of the registered device's
// identity and password for client.DerivedAuth requests.
//
// Writing credentials is owned by whatever performed the registration; the
// stores here never modify what they read.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/textsecure/pkg/address"
	"github.com/jmerrifield20/textsecure/pkg/client"
)

// ErrNoCredentials is returned when no registration has been stored.
var ErrNoCredentials = errors.New("no device credentials stored")

// StaticStore serves credentials fixed at construction, typically read from
// the config file.
type StaticStore struct {
	addr     *address.Address
	password string
}

var _ client.CredentialStore = (*StaticStore)(nil)

// NewStaticStore builds a store for number's device. An empty number yields a
// store that reports ErrNoCredentials, which is the state of a device that
// has not registered yet.
func NewStaticStore(number string, deviceID int, password string) (*StaticStore, error) {
	if number == "" {
		return &StaticStore{}, nil
	}
	addr, err := address.New(number, deviceID)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return &StaticStore{addr: addr, password: password}, nil
}

// DeviceIdentity implements client.CredentialStore.
func (s *StaticStore) DeviceIdentity(_ context.Context) (string, error) {
	if s.addr == nil {
		return "", ErrNoCredentials
	}
	return s.addr.String(), nil
}

// Password implements client.CredentialStore.
func (s *StaticStore) Password(_ context.Context) (string, error) {
	if s.addr == nil || s.password == "" {
		return "", ErrNoCredentials
	}
	return s.password, nil
}
