package client

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"
)

// TransferPhase is the state of an attachment transfer:
//
//	Start → AwaitingLocation → AwaitingTransfer → Done
//	                  ↘               ↘
//	                   Failed          Failed
//
// A failed transfer is never resumed; the caller starts over from the
// beginning because storage locations are single-use.
type TransferPhase int

const (
	PhaseStart TransferPhase = iota
	PhaseAwaitingLocation
	PhaseAwaitingTransfer
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{"start", "awaiting_location", "awaiting_transfer", "done", "failed"}

func (p TransferPhase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("TransferPhase(%d)", int(p))
}

// CanAdvance reports whether next is a legal successor of p.
func (p TransferPhase) CanAdvance(next TransferPhase) bool {
	switch p {
	case PhaseStart:
		return next == PhaseAwaitingLocation
	case PhaseAwaitingLocation, PhaseAwaitingTransfer:
		return next == p+1 || next == PhaseFailed
	default:
		return false
	}
}

// TransferDirection labels a transfer for observers.
type TransferDirection string

const (
	DirectionDownload TransferDirection = "download"
	DirectionUpload   TransferDirection = "upload"
)

// transfer tracks one attachment operation through its phases.
type transfer struct {
	c         *Client
	direction TransferDirection
	phase     TransferPhase
}

func (c *Client) newTransfer(dir TransferDirection) *transfer {
	return &transfer{c: c, direction: dir, phase: PhaseStart}
}

func (t *transfer) advance(next TransferPhase) {
	if !t.phase.CanAdvance(next) {
		panic(fmt.Sprintf("attachment %s: illegal transition %s -> %s", t.direction, t.phase, next))
	}
	t.phase = next
	if t.c.observer != nil {
		t.c.observer.ObserveTransfer(t.direction, next)
	}
}

func (t *transfer) fail(err error) error {
	t.advance(PhaseFailed)
	t.c.logger.Warn("attachment transfer failed",
		zap.String("direction", string(t.direction)),
		zap.Error(err),
	)
	return err
}

// attachmentIDPattern matches presigned upload locations on host and
// captures the numeric id, which must be followed by the query string.
// Ids may exceed 2^53 and are kept as strings.
func attachmentIDPattern(host string) *regexp.Regexp {
	return regexp.MustCompile(`^https://` + regexp.QuoteMeta(host) + `/(\d+)\?`)
}

// GetAttachment downloads the encrypted attachment with the given id. The
// server answers with a storage location that is then fetched without
// credentials.
func (c *Client) GetAttachment(ctx context.Context, id string) ([]byte, error) {
	t := c.newTransfer(DirectionDownload)

	t.advance(PhaseAwaitingLocation)
	location, err := c.attachmentLocation(ctx, "/"+id)
	if err != nil {
		return nil, t.fail(err)
	}

	t.advance(PhaseAwaitingTransfer)
	resp, err := c.storageExchange(ctx, &Exchange{
		Method:   http.MethodGet,
		URL:      location,
		Header:   make(http.Header),
		Response: ResponseBinary,
	})
	if err != nil {
		return nil, t.fail(err)
	}

	t.advance(PhaseDone)
	return resp.Body, nil
}

// PutAttachment uploads already-encrypted attachment bytes and returns the
// id the server assigned to them.
func (c *Client) PutAttachment(ctx context.Context, encrypted []byte) (string, error) {
	t := c.newTransfer(DirectionUpload)

	t.advance(PhaseAwaitingLocation)
	location, err := c.attachmentLocation(ctx, "")
	if err != nil {
		return "", t.fail(err)
	}

	t.advance(PhaseAwaitingTransfer)
	header := make(http.Header)
	header.Set("Content-Type", "application/octet-stream")
	body := encrypted
	if body == nil {
		body = []byte{}
	}
	resp, err := c.storageExchange(ctx, &Exchange{
		Method:   http.MethodPut,
		URL:      location,
		Header:   header,
		Body:     body,
		Response: ResponseText,
	})
	if err != nil {
		return "", t.fail(err)
	}

	m := c.attachmentID.FindStringSubmatch(location)
	if m == nil {
		return "", t.fail(protocolError(NormalizeStatus(resp.Status),
			"uploaded attachment but could not recover its id from location %q", location))
	}

	t.advance(PhaseDone)
	return m[1], nil
}

// attachmentLocation performs phase one: an authenticated request for a
// storage location.
func (c *Client) attachmentLocation(ctx context.Context, suffix string) (string, error) {
	res, err := c.Do(ctx, Request{
		Call:   EndpointAttachment,
		Method: http.MethodGet,
		Suffix: suffix,
		Auth:   DerivedAuth(),
	})
	if err != nil {
		return "", err
	}

	var body struct {
		Location string `json:"location"`
	}
	if err := res.Decode(&body); err != nil || body.Location == "" {
		return "", protocolError(res.Status, "attachment response carries no location")
	}
	return body.Location, nil
}

// storageExchange performs phase two against the storage host. It is never
// authenticated nor throttled, and failures are classified without the
// messaging server's status meanings.
func (c *Client) storageExchange(ctx context.Context, ex *Exchange) (*Response, error) {
	resp, err := c.exchange(ctx, "storage", ex)
	if err != nil {
		return nil, transportError(err)
	}
	status := NormalizeStatus(resp.Status)
	if !IsSuccess(status) {
		return nil, classifyStorage(status, resp.Body)
	}
	return resp, nil
}
