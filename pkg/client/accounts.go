package client

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/jmerrifield20/textsecure/pkg/address"
)

// VerificationTransport is how the server delivers a verification code.
type VerificationTransport string

const (
	TransportSMS   VerificationTransport = "sms"
	TransportVoice VerificationTransport = "voice"
)

// ErrUnknownTransport is returned for a VerificationTransport other than
// TransportSMS or TransportVoice.
var ErrUnknownTransport = errors.New("verification transport must be sms or voice")

// RequestVerificationCode asks the server to send a verification code to
// number. No credentials are sent.
func (c *Client) RequestVerificationCode(ctx context.Context, number string, transport VerificationTransport) error {
	if transport != TransportSMS && transport != TransportVoice {
		return ErrUnknownTransport
	}
	_, err := c.Do(ctx, Request{
		Call:   EndpointAccounts,
		Method: http.MethodGet,
		Suffix: "/" + string(transport) + "/code/" + number,
		Auth:   NoAuth(),
	})
	return err
}

// Confirmation is the input of ConfirmCode.
type Confirmation struct {
	Number         string
	Code           string
	Password       string
	SignalingKey   []byte
	RegistrationID uint32
	// SingleDevice registers number on this device alone. When false the
	// device is linked to an existing account through the devices endpoint.
	SingleDevice bool
}

// ConfirmResult is what the server assigned on confirmation.
type ConfirmResult struct {
	DeviceID int
	// UUID is set by servers that issue account uuids; empty otherwise.
	UUID string
}

type confirmCodeRequest struct {
	SignalingKey    string `json:"signalingKey"`
	SupportsSMS     bool   `json:"supportsSms"`
	FetchesMessages bool   `json:"fetchesMessages"`
	RegistrationID  uint32 `json:"registrationId"`
}

// ConfirmCode completes registration with the code the server sent,
// authenticating with the number and the freshly generated password.
func (c *Client) ConfirmCode(ctx context.Context, conf Confirmation) (*ConfirmResult, error) {
	req := Request{
		Method: http.MethodPut,
		Auth:   ExplicitAuth(conf.Number, conf.Password),
		JSON: confirmCodeRequest{
			SignalingKey:    base64.StdEncoding.EncodeToString(conf.SignalingKey),
			SupportsSMS:     false,
			FetchesMessages: true,
			RegistrationID:  conf.RegistrationID,
		},
	}
	if conf.SingleDevice {
		req.Call = EndpointAccounts
		req.Suffix = "/code/" + conf.Code
	} else {
		req.Call = EndpointDevices
		req.Suffix = "/" + conf.Code
	}

	res, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &ConfirmResult{DeviceID: address.PrimaryDevice}
	var body struct {
		DeviceID int    `json:"deviceId"`
		UUID     string `json:"uuid"`
	}
	// Servers answer single-device registration with an empty body.
	if res.Decode(&body) == nil {
		if body.DeviceID > 0 {
			out.DeviceID = body.DeviceID
		}
		out.UUID = body.UUID
	}
	return out, nil
}
