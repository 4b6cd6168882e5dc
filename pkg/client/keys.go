package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// LastResortKeyID is the key id of the placeholder last-resort pre-key the
// server requires in every upload.
const LastResortKeyID = 0x7FFFFFFF

// lastResortPublicKey is a placeholder. The server only checks presence.
var lastResortPublicKey = []byte("42")

// AllDevices requests keys for every device of a number.
const AllDevices = 0

// PreKey is a one-time pre-key.
type PreKey struct {
	KeyID     uint32
	PublicKey []byte
}

// SignedPreKey is a medium-term pre-key signed by the identity key.
type SignedPreKey struct {
	KeyID     uint32
	PublicKey []byte
	Signature []byte
}

// PreKeyBundle is the key material uploaded by RegisterKeys.
type PreKeyBundle struct {
	IdentityKey  []byte
	SignedPreKey SignedPreKey
	PreKeys      []PreKey
}

// DeviceKeys is the key material of one remote device.
type DeviceKeys struct {
	DeviceID       int
	RegistrationID uint32
	SignedPreKey   *SignedPreKey
	// PreKey is nil once the device's one-time pre-keys are exhausted.
	PreKey *PreKey
}

// RemoteKeys is the result of GetKeysForNumber with every binary field
// already decoded.
type RemoteKeys struct {
	IdentityKey []byte
	Devices     []DeviceKeys
}

type wirePreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

type wireSignedPreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

type wireRegisterKeys struct {
	IdentityKey   string           `json:"identityKey"`
	SignedPreKey  wireSignedPreKey `json:"signedPreKey"`
	PreKeys       []wirePreKey     `json:"preKeys"`
	LastResortKey wirePreKey       `json:"lastResortKey"`
}

type wireDeviceKeys struct {
	DeviceID       int               `json:"deviceId"`
	RegistrationID uint32            `json:"registrationId"`
	SignedPreKey   *wireSignedPreKey `json:"signedPreKey"`
	PreKey         *wirePreKey       `json:"preKey"`
}

type wireRemoteKeys struct {
	IdentityKey string           `json:"identityKey"`
	Devices     []wireDeviceKeys `json:"devices"`
}

var b64 = base64.StdEncoding

// encodeBundle base64-encodes every binary field and appends the
// last-resort key.
func encodeBundle(b PreKeyBundle) wireRegisterKeys {
	out := wireRegisterKeys{
		IdentityKey: b64.EncodeToString(b.IdentityKey),
		SignedPreKey: wireSignedPreKey{
			KeyID:     b.SignedPreKey.KeyID,
			PublicKey: b64.EncodeToString(b.SignedPreKey.PublicKey),
			Signature: b64.EncodeToString(b.SignedPreKey.Signature),
		},
		PreKeys: make([]wirePreKey, 0, len(b.PreKeys)),
		LastResortKey: wirePreKey{
			KeyID:     LastResortKeyID,
			PublicKey: b64.EncodeToString(lastResortPublicKey),
		},
	}
	for _, pk := range b.PreKeys {
		out.PreKeys = append(out.PreKeys, wirePreKey{
			KeyID:     pk.KeyID,
			PublicKey: b64.EncodeToString(pk.PublicKey),
		})
	}
	return out
}

// decodeRemoteKeys turns the wire form into raw bytes.
func decodeRemoteKeys(w wireRemoteKeys) (*RemoteKeys, error) {
	identity, err := b64.DecodeString(w.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("identityKey: %w", err)
	}
	out := &RemoteKeys{IdentityKey: identity, Devices: make([]DeviceKeys, 0, len(w.Devices))}

	for _, d := range w.Devices {
		dk := DeviceKeys{DeviceID: d.DeviceID, RegistrationID: d.RegistrationID}
		if d.SignedPreKey != nil {
			pub, err := b64.DecodeString(d.SignedPreKey.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("device %d signedPreKey.publicKey: %w", d.DeviceID, err)
			}
			sig, err := b64.DecodeString(d.SignedPreKey.Signature)
			if err != nil {
				return nil, fmt.Errorf("device %d signedPreKey.signature: %w", d.DeviceID, err)
			}
			dk.SignedPreKey = &SignedPreKey{KeyID: d.SignedPreKey.KeyID, PublicKey: pub, Signature: sig}
		}
		if d.PreKey != nil {
			pub, err := b64.DecodeString(d.PreKey.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("device %d preKey.publicKey: %w", d.DeviceID, err)
			}
			dk.PreKey = &PreKey{KeyID: d.PreKey.KeyID, PublicKey: pub}
		}
		out.Devices = append(out.Devices, dk)
	}
	return out, nil
}

// RegisterKeys uploads the device's identity key, signed pre-key and
// one-time pre-keys.
func (c *Client) RegisterKeys(ctx context.Context, bundle PreKeyBundle) error {
	_, err := c.Do(ctx, Request{
		Call:   EndpointKeys,
		Method: http.MethodPut,
		JSON:   encodeBundle(bundle),
		Auth:   DerivedAuth(),
	})
	return err
}

// GetMyKeyCount returns how many one-time pre-keys the server still holds
// for this device.
func (c *Client) GetMyKeyCount(ctx context.Context) (int, error) {
	res, err := c.Do(ctx, Request{
		Call:   EndpointKeys,
		Method: http.MethodGet,
		Auth:   DerivedAuth(),
	})
	if err != nil {
		return 0, err
	}

	var body struct {
		Count json.Number `json:"count"`
	}
	if err := res.Decode(&body); err != nil {
		return 0, protocolError(res.Status, "key count response is not valid JSON: %v", err)
	}
	n, err := strconv.Atoi(body.Count.String())
	if err != nil {
		return 0, protocolError(res.Status, "key count %q is not an integer", body.Count)
	}
	return n, nil
}

// GetKeysForNumber fetches the keys of one device of number, or of all its
// devices when deviceID is AllDevices.
func (c *Client) GetKeysForNumber(ctx context.Context, number string, deviceID int) (*RemoteKeys, error) {
	device := "*"
	if deviceID != AllDevices {
		device = strconv.Itoa(deviceID)
	}

	res, err := c.Do(ctx, Request{
		Call:   EndpointKeys,
		Method: http.MethodGet,
		Suffix: "/" + number + "/" + device,
		Auth:   DerivedAuth(),
	})
	if err != nil {
		return nil, err
	}

	var wire wireRemoteKeys
	if err := res.Decode(&wire); err != nil {
		return nil, protocolError(res.Status, "key response is not valid JSON: %v", err)
	}
	keys, err := decodeRemoteKeys(wire)
	if err != nil {
		return nil, protocolError(res.Status, "decode key response: %v", err)
	}
	return keys, nil
}
