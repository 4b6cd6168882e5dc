package client

import (
	"context"
	"errors"
	"net/http"
)

// Envelope types understood by the server.
const (
	MessageTypeCiphertext      = 1
	MessageTypePreKeyBundle    = 3
	MessageTypeDeliveryReceipt = 5
)

// ErrEmptyBatch is returned by SendMessages when there is nothing to send.
var ErrEmptyBatch = errors.New("message batch is empty")

// OutgoingMessage is one encrypted message addressed to a single device of
// the destination.
type OutgoingMessage struct {
	Type                      int
	DestinationDeviceID       int
	DestinationRegistrationID uint32
	Body                      []byte
	Timestamp                 int64
	// Relay names the federated server the destination lives on; empty for
	// local destinations.
	Relay string
}

type wireMessage struct {
	Type                      int    `json:"type"`
	DestinationDeviceID       int    `json:"destinationDeviceId"`
	DestinationRegistrationID uint32 `json:"destinationRegistrationId"`
	Body                      string `json:"body"`
	Timestamp                 int64  `json:"timestamp"`
	Relay                     string `json:"relay,omitempty"`
}

type wireSendMessages struct {
	Messages  []wireMessage `json:"messages"`
	Relay     string        `json:"relay,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// encodeBatch base64-encodes every body and hoists relay and timestamp from
// the first message. Later messages' relay and timestamp do not reach the
// top level.
func encodeBatch(msgs []OutgoingMessage) wireSendMessages {
	out := wireSendMessages{
		Messages:  make([]wireMessage, 0, len(msgs)),
		Relay:     msgs[0].Relay,
		Timestamp: msgs[0].Timestamp,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, wireMessage{
			Type:                      m.Type,
			DestinationDeviceID:       m.DestinationDeviceID,
			DestinationRegistrationID: m.DestinationRegistrationID,
			Body:                      b64.EncodeToString(m.Body),
			Timestamp:                 m.Timestamp,
			Relay:                     m.Relay,
		})
	}
	return out
}

// SendMessages delivers a batch of messages to destination. The caller's
// slice is not modified.
func (c *Client) SendMessages(ctx context.Context, destination string, msgs []OutgoingMessage) error {
	if len(msgs) == 0 {
		return ErrEmptyBatch
	}
	_, err := c.Do(ctx, Request{
		Call:   EndpointMessages,
		Method: http.MethodPut,
		Suffix: "/" + destination,
		JSON:   encodeBatch(msgs),
		Auth:   DerivedAuth(),
	})
	return err
}
