package fakeserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/textsecure/internal/fakeserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	alice = "+15550000001"
	bob   = "+15550000002"
)

func newServer(opts ...fakeserver.Option) *fakeserver.Server {
	opts = append([]fakeserver.Option{fakeserver.WithStore(fakeserver.NewStore(bcrypt.MinCost))}, opts...)
	return fakeserver.New("https://storage.test", opts...)
}

func serve(h http.Handler, method, path string, body any, login, password string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if login != "" {
		req.SetBasicAuth(login, password)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// register drives the code request and confirmation for number.
func register(t *testing.T, srv *fakeserver.Server, h http.Handler, number, password string) {
	t.Helper()
	if w := serve(h, http.MethodGet, "/v1/accounts/sms/code/"+number, nil, "", ""); w.Code != http.StatusOK {
		t.Fatalf("request code: status %d", w.Code)
	}
	code, ok := srv.Store().PendingCode(number)
	if !ok {
		t.Fatal("no pending code")
	}
	body := map[string]any{"signalingKey": "c2lnbmFs", "registrationId": 7}
	if w := serve(h, http.MethodPut, "/v1/accounts/code/"+code, body, number, password); w.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %s", w.Code, w.Body)
	}
}

// ── Accounts ─────────────────────────────────────────────────────────────

func TestRequestCode_validation(t *testing.T) {
	h := newServer().APIHandler()

	cases := []struct {
		path string
		want int
	}{
		{"/v1/accounts/sms/code/" + alice, http.StatusOK},
		{"/v1/accounts/voice/code/" + alice, http.StatusOK},
		{"/v1/accounts/fax/code/" + alice, http.StatusBadRequest},
		{"/v1/accounts/sms/code/5550000001", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := serve(h, http.MethodGet, tc.path, nil, "", ""); w.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func TestConfirmAccount_statuses(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	body := map[string]any{"signalingKey": "c2lnbmFs", "registrationId": 7}

	serve(h, http.MethodGet, "/v1/accounts/sms/code/"+alice, nil, "", "")
	if w := serve(h, http.MethodPut, "/v1/accounts/code/999999x", body, alice, "pw"); w.Code != http.StatusForbidden {
		t.Errorf("wrong code: got %d, want 403", w.Code)
	}
	if w := serve(h, http.MethodPut, "/v1/accounts/code/123456", body, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: got %d, want 401", w.Code)
	}

	register(t, srv, h, alice, "pw")

	serve(h, http.MethodGet, "/v1/accounts/sms/code/"+alice, nil, "", "")
	code, _ := srv.Store().PendingCode(alice)
	if w := serve(h, http.MethodPut, "/v1/accounts/code/"+code, body, alice, "pw"); w.Code != http.StatusExpectationFailed {
		t.Errorf("already registered: got %d, want 417", w.Code)
	}
}

func TestConfirmAccount_badSignalingKey(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	serve(h, http.MethodGet, "/v1/accounts/sms/code/"+alice, nil, "", "")
	code, _ := srv.Store().PendingCode(alice)

	body := map[string]any{"signalingKey": "not base64!", "registrationId": 7}
	if w := serve(h, http.MethodPut, "/v1/accounts/code/"+code, body, alice, "pw"); w.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", w.Code)
	}
}

// ── Authenticated routes ─────────────────────────────────────────────────

func TestAuthenticatedRoutes_rejectBadCredentials(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	register(t, srv, h, alice, "pw")

	cases := []struct{ login, password string }{
		{"", ""},
		{alice, "wrong"},
		{alice + ".2", "pw"},
		{"alice", "pw"},
	}
	for _, tc := range cases {
		if w := serve(h, http.MethodGet, "/v2/keys", nil, tc.login, tc.password); w.Code != http.StatusUnauthorized {
			t.Errorf("login %q: got %d, want 401", tc.login, w.Code)
		}
	}
	if w := serve(h, http.MethodGet, "/v2/keys", nil, alice+".1", "pw"); w.Code != http.StatusOK {
		t.Errorf("valid credentials: got %d", w.Code)
	}
}

func TestPutKeys_validation(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	register(t, srv, h, alice, "pw")

	missing := map[string]any{"identityKey": "aWQ=", "preKeys": []any{}}
	if w := serve(h, http.MethodPut, "/v2/keys", missing, alice, "pw"); w.Code != http.StatusBadRequest {
		t.Errorf("missing keys: got %d, want 400", w.Code)
	}

	good := map[string]any{
		"identityKey":   "aWQ=",
		"signedPreKey":  map[string]any{"keyId": 1, "publicKey": "cHVi", "signature": "c2ln"},
		"preKeys":       []any{map[string]any{"keyId": 2, "publicKey": "AQ=="}},
		"lastResortKey": map[string]any{"keyId": 0x7FFFFFFF, "publicKey": "NDI="},
	}
	if w := serve(h, http.MethodPut, "/v2/keys", good, alice, "pw"); w.Code != http.StatusNoContent {
		t.Fatalf("valid upload: got %d %s", w.Code, w.Body)
	}
	w := serve(h, http.MethodGet, "/v2/keys", nil, alice, "pw")
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Errorf("count: got %s", w.Body)
	}
}

func TestGetKeys_deviceParam(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	register(t, srv, h, alice, "pw")

	if w := serve(h, http.MethodGet, "/v2/keys/"+alice+"/zero", nil, alice, "pw"); w.Code != http.StatusBadRequest {
		t.Errorf("bad device: got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/v2/keys/"+bob+"/*", nil, alice, "pw"); w.Code != http.StatusNotFound {
		t.Errorf("unknown number: got %d", w.Code)
	}
	w := serve(h, http.MethodGet, "/v2/keys/"+alice+"/*", nil, alice, "pw")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"devices":[]`) {
		t.Errorf("no keys yet: got %d %s", w.Code, w.Body)
	}
}

func TestSendMessages_statuses(t *testing.T) {
	srv := newServer()
	h := srv.APIHandler()
	register(t, srv, h, alice, "pw")
	register(t, srv, h, bob, "pw")

	msg := func(device int) map[string]any {
		return map[string]any{"type": 1, "destinationDeviceId": device, "body": "aGk=", "timestamp": 1}
	}
	cases := []struct {
		name string
		dest string
		body map[string]any
		want int
	}{
		{"delivered", bob, map[string]any{"messages": []any{msg(1)}}, http.StatusOK},
		{"empty", bob, map[string]any{"messages": []any{}}, http.StatusBadRequest},
		{"unknown destination", "+15550000099", map[string]any{"messages": []any{msg(1)}}, http.StatusNotFound},
		{"unknown device", bob, map[string]any{"messages": []any{msg(4)}}, http.StatusConflict},
		{"relay", bob, map[string]any{"messages": []any{msg(1)}, "relay": "other.example.org"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := serve(h, http.MethodPut, "/v1/messages/"+tc.dest, tc.body, alice, "pw"); w.Code != tc.want {
				t.Errorf("got %d, want %d (%s)", w.Code, tc.want, w.Body)
			}
		})
	}

	got := srv.Store().Pending(bob, 1)
	if len(got) != 1 || got[0].Source != alice || got[0].SourceDevice != 1 {
		t.Errorf("pending: got %+v", got)
	}
}

// ── Attachments ──────────────────────────────────────────────────────────

func TestAttachments_allocateUploadDownload(t *testing.T) {
	srv := newServer()
	api := srv.APIHandler()
	storage := srv.StorageHandler()
	register(t, srv, api, alice, "pw")

	w := serve(api, http.MethodGet, "/v1/attachments", nil, alice, "pw")
	if w.Code != http.StatusOK {
		t.Fatalf("allocate: %d", w.Code)
	}
	var alloc struct {
		ID       json.Number `json:"id"`
		Location string      `json:"location"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &alloc); err != nil {
		t.Fatal(err)
	}
	if alloc.Location != "https://storage.test/"+alloc.ID.String()+"?X-Amz-Expires=3600" {
		t.Fatalf("location: got %q", alloc.Location)
	}

	if w := serve(api, http.MethodGet, "/v1/attachments/"+alloc.ID.String(), nil, alice, "pw"); w.Code != http.StatusNotFound {
		t.Errorf("before upload: got %d, want 404", w.Code)
	}

	put := httptest.NewRequest(http.MethodPut, "/"+alloc.ID.String(), strings.NewReader("ciphertext"))
	pw := httptest.NewRecorder()
	storage.ServeHTTP(pw, put)
	if pw.Code != http.StatusOK {
		t.Fatalf("upload: %d", pw.Code)
	}

	if w := serve(api, http.MethodGet, "/v1/attachments/"+alloc.ID.String(), nil, alice, "pw"); w.Code != http.StatusOK {
		t.Errorf("after upload: got %d", w.Code)
	}
	get := httptest.NewRecorder()
	storage.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/"+alloc.ID.String(), nil))
	if get.Body.String() != "ciphertext" {
		t.Errorf("download: got %q", get.Body)
	}
}

func TestStorage_rejectsUnallocatedUpload(t *testing.T) {
	storage := newServer().StorageHandler()
	w := httptest.NewRecorder()
	storage.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/12345", strings.NewReader("x")))
	if w.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403", w.Code)
	}
}

// ── Middleware ───────────────────────────────────────────────────────────

func TestRateLimiter_returns413(t *testing.T) {
	srv := newServer(fakeserver.WithRateLimit(1))
	t.Cleanup(srv.Close)
	h := srv.APIHandler()

	var last int
	for i := 0; i < 5; i++ {
		last = serve(h, http.MethodGet, "/v1/accounts/sms/code/"+alice, nil, "", "").Code
	}
	if last != http.StatusRequestEntityTooLarge {
		t.Errorf("got %d, want 413", last)
	}
}

func TestCORS_preflight(t *testing.T) {
	h := newServer(fakeserver.WithCORSOrigins([]string{"http://localhost:3000"})).APIHandler()

	req := httptest.NewRequest(http.MethodOptions, "/v2/keys", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: got %q", got)
	}
}

func TestHTTPMetrics_recordsRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newServer(fakeserver.WithMetrics(fakeserver.NewHTTPMetrics(reg))).APIHandler()

	serve(h, http.MethodGet, "/v1/accounts/sms/code/"+alice, nil, "", "")
	serve(h, http.MethodGet, "/v1/accounts/voice/code/"+bob, nil, "", "")

	if n := testutil.CollectAndCount(reg, "textsecure_fake_requests_total"); n != 1 {
		t.Errorf("series: got %d, want 1", n)
	}
}

func TestHealthz(t *testing.T) {
	srv := newServer()
	for name, h := range map[string]http.Handler{"api": srv.APIHandler(), "storage": srv.StorageHandler()} {
		if w := serve(h, http.MethodGet, "/healthz", nil, "", ""); w.Code != http.StatusOK {
			t.Errorf("%s: got %d", name, w.Code)
		}
	}
}
