package client

import (
	"bytes"
	"context"
	"net/http"
	"reflect"
	"testing"
)

type staticStore struct{ identity, password string }

func (s staticStore) DeviceIdentity(context.Context) (string, error) { return s.identity, nil }
func (s staticStore) Password(context.Context) (string, error)       { return s.password, nil }

func TestBuild_idempotent(t *testing.T) {
	c := MustNew("https://example.com", WithCredentialStore(staticStore{"+15551234567.1", "pw"}))

	reqs := []Request{
		{Call: EndpointKeys, Method: http.MethodPut, JSON: map[string]int{"a": 1}, Auth: DerivedAuth()},
		{Call: EndpointAccounts, Method: http.MethodGet, Suffix: "/sms/code/+1555", Auth: NoAuth()},
		{Call: EndpointDevices, Method: http.MethodPut, Suffix: "/123", Auth: ExplicitAuth("+1555", "pw")},
	}
	for _, req := range reqs {
		a, err := c.build(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		b, err := c.build(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("build is not idempotent:\n%+v\n%+v", a, b)
		}
	}
}

func TestBuild_bodyOmittedWhenAbsent(t *testing.T) {
	c := MustNew("https://example.com")
	ex, err := c.build(context.Background(), Request{Call: EndpointKeys, Method: http.MethodGet})
	if err != nil {
		t.Fatal(err)
	}
	if ex.Body != nil {
		t.Errorf("Body: got %q, want nil", ex.Body)
	}
	if ex.Header.Get("Content-Type") != "" || ex.Header.Get("Authorization") != "" {
		t.Errorf("unexpected headers %v", ex.Header)
	}
	if ex.URL != "https://example.com/v2/keys" {
		t.Errorf("URL: got %q", ex.URL)
	}
}

func TestBuild_explicitAuthIgnoresStore(t *testing.T) {
	c := MustNew("https://example.com", WithCredentialStore(staticStore{"+1999.1", "stored"}))
	ex, err := c.build(context.Background(), Request{
		Call: EndpointAccounts, Method: http.MethodPut, Auth: ExplicitAuth("+1555", "given"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if ex.Header.Get("Authorization") != basicAuth("+1555", "given") {
		t.Errorf("Authorization: got %q", ex.Header.Get("Authorization"))
	}
}

func TestDecodeResult(t *testing.T) {
	if r := decodeResult(200, nil, ResponseJSON); r.Kind != ResultEmpty {
		t.Errorf("nil body: got %d", r.Kind)
	}
	if r := decodeResult(200, []byte("{oops"), ResponseJSON); r.Kind != ResultRaw || r.Text != "{oops" {
		t.Errorf("bad json: got %+v", r)
	}
	r := decodeResult(200, []byte{0, 1}, ResponseBinary)
	if r.Kind != ResultBinary || !bytes.Equal(r.Bytes, []byte{0, 1}) {
		t.Errorf("binary: got %+v", r)
	}
	if r := decodeResult(200, nil, ResponseBinary); r.Kind != ResultBinary {
		t.Errorf("empty binary: got %d", r.Kind)
	}
}

func TestEndpointPaths(t *testing.T) {
	want := map[Endpoint]string{
		EndpointAccounts:   "/v1/accounts",
		EndpointDevices:    "/v1/devices",
		EndpointKeys:       "/v2/keys",
		EndpointPush:       "/v1/websocket/",
		EndpointTempPush:   "/v1/websocket/provisioning/",
		EndpointMessages:   "/v1/messages",
		EndpointAttachment: "/v1/attachments",
	}
	for e, path := range want {
		got, ok := e.Path()
		if !ok || got != path {
			t.Errorf("%s: got %q, %v", e, got, ok)
		}
	}
	if _, ok := Endpoint("nope").Path(); ok {
		t.Error("unknown endpoint resolved")
	}
}
