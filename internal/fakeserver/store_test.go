package fakeserver

import (
	"errors"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

const testNumber = "+15550000001"

func registered(t *testing.T) *Store {
	t.Helper()
	st := NewStore(bcrypt.MinCost)
	code, err := st.IssueCode(testNumber)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Register(testNumber, code, "pw", "c2lnbmFs", 42); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return st
}

func TestStore_issueCodeFormat(t *testing.T) {
	st := NewStore(bcrypt.MinCost)
	code, err := st.IssueCode(testNumber)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 {
		t.Errorf("code %q: want 6 digits", code)
	}
	if _, err := strconv.Atoi(code); err != nil {
		t.Errorf("code %q is not numeric", code)
	}
	if got, ok := st.PendingCode(testNumber); !ok || got != code {
		t.Errorf("PendingCode: got %q, %v", got, ok)
	}
}

func TestStore_register(t *testing.T) {
	st := NewStore(bcrypt.MinCost)
	code, _ := st.IssueCode(testNumber)

	if _, err := st.Register(testNumber, "000000x", "pw", "k", 1); !errors.Is(err, errInvalidCode) {
		t.Fatalf("wrong code: got %v", err)
	}
	if _, err := st.Register(testNumber, code, "pw", "k", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := st.PendingCode(testNumber); ok {
		t.Error("code should be consumed")
	}

	again, _ := st.IssueCode(testNumber)
	if _, err := st.Register(testNumber, again, "pw", "k", 1); !errors.Is(err, errAlreadyExists) {
		t.Fatalf("second registration: got %v", err)
	}
}

func TestStore_authenticate(t *testing.T) {
	st := registered(t)

	if !st.Authenticate(testNumber, 1, "pw") {
		t.Error("correct password rejected")
	}
	if st.Authenticate(testNumber, 1, "nope") {
		t.Error("wrong password accepted")
	}
	if st.Authenticate(testNumber, 2, "pw") {
		t.Error("unknown device accepted")
	}
	if st.Authenticate("+15559999999", 1, "pw") {
		t.Error("unknown number accepted")
	}
}

func TestStore_linkDevice(t *testing.T) {
	st := registered(t)

	code, err := st.IssueLinkCode(testNumber)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.LinkDevice("+15559999999", code, "pw2", "k", 7); !errors.Is(err, errInvalidCode) {
		t.Fatalf("foreign number: got %v", err)
	}
	id, err := st.LinkDevice(testNumber, code, "pw2", "k", 7)
	if err != nil {
		t.Fatalf("LinkDevice: %v", err)
	}
	if id != 2 {
		t.Errorf("device id: got %d, want 2", id)
	}
	if !st.Authenticate(testNumber, 2, "pw2") {
		t.Error("linked device cannot authenticate")
	}
	if _, err := st.LinkDevice(testNumber, code, "pw3", "k", 8); !errors.Is(err, errInvalidCode) {
		t.Errorf("reused link code: got %v", err)
	}
}

func TestStore_takeKeysConsumesPreKeys(t *testing.T) {
	st := registered(t)
	signed := signedPreKey{KeyID: 5, PublicKey: "cHVi", Signature: "c2ln"}
	keys := []preKey{{KeyID: 1, PublicKey: "AQ=="}, {KeyID: 2, PublicKey: "Ag=="}}
	if err := st.SetKeys(testNumber, 1, "aWQ=", signed, keys, &preKey{KeyID: 0x7FFFFFFF, PublicKey: "NDI="}); err != nil {
		t.Fatal(err)
	}

	for i, want := range []uint32{1, 2} {
		got, err := st.TakeKeys(testNumber, 1)
		if err != nil {
			t.Fatal(err)
		}
		if got.Devices[0].PreKey == nil || got.Devices[0].PreKey.KeyID != want {
			t.Fatalf("take %d: got %+v", i, got.Devices[0].PreKey)
		}
	}

	got, err := st.TakeKeys(testNumber, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Devices) != 1 || got.Devices[0].PreKey != nil {
		t.Errorf("exhausted: got %+v", got.Devices)
	}
	if n, _ := st.KeyCount(testNumber, 1); n != 0 {
		t.Errorf("KeyCount: got %d", n)
	}
}

func TestStore_takeKeysSkipsDevicesWithoutKeys(t *testing.T) {
	st := registered(t)

	got, err := st.TakeKeys(testNumber, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Devices) != 0 {
		t.Errorf("got %d devices, want 0", len(got.Devices))
	}
	if _, err := st.TakeKeys(testNumber, 1); !errors.Is(err, errNotFound) {
		t.Errorf("single device without keys: got %v", err)
	}
}

func TestStore_deliver(t *testing.T) {
	st := registered(t)

	if err := st.Deliver("+15559999999", []Envelope{{}}, []int{1}); !errors.Is(err, errNotFound) {
		t.Errorf("unknown destination: got %v", err)
	}
	if err := st.Deliver(testNumber, []Envelope{{}}, []int{3}); !errors.Is(err, errUnknownDevices) {
		t.Errorf("unknown device: got %v", err)
	}
	if err := st.Deliver(testNumber, []Envelope{{Body: "aGk="}}, []int{1}); err != nil {
		t.Fatal(err)
	}
	if got := st.Pending(testNumber, 1); len(got) != 1 || got[0].Body != "aGk=" {
		t.Errorf("Pending: got %+v", got)
	}
	if got := st.Pending(testNumber, 1); len(got) != 0 {
		t.Errorf("Pending should drain, got %d", len(got))
	}
}

func TestStore_attachmentIDsExceedDoublePrecision(t *testing.T) {
	st := NewStore(bcrypt.MinCost)
	id := st.AllocateAttachment()

	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		t.Fatal(err)
	}
	if n <= 1<<53 {
		t.Errorf("id %d does not exceed 2^53", n)
	}
	if st.HasAttachment(id) {
		t.Error("allocated id should not count as uploaded")
	}
	if err := st.PutBlob("1", []byte("x")); !errors.Is(err, errNotFound) {
		t.Errorf("unallocated upload: got %v", err)
	}
	if err := st.PutBlob(id, []byte("data")); err != nil {
		t.Fatal(err)
	}
	if b, err := st.Blob(id); err != nil || string(b) != "data" {
		t.Errorf("Blob: got %q, %v", b, err)
	}
}
