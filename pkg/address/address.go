// Package address parses and formats device addresses used as account
// identities by the messaging server.
//
// Address format: {number}.{device-id}
//
// Examples:
//
//	+15551234567.1   (primary device)
//	+15551234567.3   (linked device)
//
// The number is an E.164 phone number including the leading "+".
// The device-id is a positive integer assigned by the server; the primary
// device is always 1.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// PrimaryDevice is the device id of the device that registered the number.
const PrimaryDevice = 1

// Address identifies a single device of a registered number.
type Address struct {
	Number   string // e.g. "+15551234567"
	DeviceID int    // e.g. 1
}

// New returns an Address after validating both parts.
func New(number string, deviceID int) (*Address, error) {
	if err := validateNumber(number); err != nil {
		return nil, err
	}
	if deviceID < 1 {
		return nil, fmt.Errorf("device id must be positive, got %d", deviceID)
	}
	return &Address{Number: number, DeviceID: deviceID}, nil
}

// Parse parses a "{number}.{device-id}" identity string.
//
// A bare number without a device suffix is accepted and refers to the
// primary device.
func Parse(raw string) (*Address, error) {
	if raw == "" {
		return nil, fmt.Errorf("address must not be empty")
	}

	number, device, found := strings.Cut(raw, ".")
	if !found {
		return New(number, PrimaryDevice)
	}

	id, err := strconv.Atoi(device)
	if err != nil {
		return nil, fmt.Errorf("invalid device id %q in address %q", device, raw)
	}
	return New(number, id)
}

// MustParse parses an address and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical "{number}.{device-id}" form.
func (a *Address) String() string {
	return a.Number + "." + strconv.Itoa(a.DeviceID)
}

// validateNumber checks that number looks like an E.164 phone number.
func validateNumber(number string) error {
	if number == "" {
		return fmt.Errorf("number must not be empty")
	}
	if !strings.HasPrefix(number, "+") {
		return fmt.Errorf("number %q must start with \"+\"", number)
	}
	digits := number[1:]
	if len(digits) < 3 || len(digits) > 15 {
		return fmt.Errorf("number %q must have between 3 and 15 digits", number)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("number %q contains invalid characters", number)
		}
	}
	return nil
}
