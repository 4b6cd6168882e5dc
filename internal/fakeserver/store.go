package fakeserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	errNotFound       = errors.New("not found")
	errInvalidCode    = errors.New("verification code does not match")
	errAlreadyExists  = errors.New("number already registered")
	errUnknownDevices = errors.New("destination devices do not match")
)

// firstAttachmentID is above 2^53 so that clients which parse ids as
// doubles lose precision and fail visibly.
const firstAttachmentID uint64 = 1<<53 + 1

type preKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

type signedPreKey struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

type device struct {
	id             int
	passwordHash   []byte
	signalingKey   string
	registrationID uint32
	signedPreKey   *signedPreKey
	preKeys        []preKey
	lastResortKey  *preKey
	created        time.Time
}

type account struct {
	number      string
	uuid        uuid.UUID
	identityKey string
	devices     map[int]*device
	nextDevice  int
}

// Envelope is a message accepted for delivery and queued for one device.
type Envelope struct {
	ID             uuid.UUID
	Source         string
	SourceDevice   int
	Type           int
	Body           string
	Relay          string
	Timestamp      int64
	RegistrationID uint32
}

// Store is the in-memory state of the fake server. It is safe for
// concurrent use.
type Store struct {
	mu          sync.RWMutex
	bcryptCost  int
	codes       map[string]string // number -> pending registration code
	linkCodes   map[string]string // code -> number being linked
	accounts    map[string]*account
	queues      map[string][]Envelope // "number.device" -> pending envelopes
	nextAttach  uint64
	allocated   map[string]bool
	attachments map[string][]byte
}

// NewStore returns an empty store hashing passwords at the given bcrypt
// cost. A cost below bcrypt.MinCost uses bcrypt.DefaultCost.
func NewStore(bcryptCost int) *Store {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Store{
		bcryptCost:  bcryptCost,
		codes:       make(map[string]string),
		linkCodes:   make(map[string]string),
		accounts:    make(map[string]*account),
		queues:      make(map[string][]Envelope),
		nextAttach:  firstAttachmentID,
		allocated:   make(map[string]bool),
		attachments: make(map[string][]byte),
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IssueCode creates (or replaces) the pending verification code for number.
func (s *Store) IssueCode(number string) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.codes[number] = code
	s.mu.Unlock()
	return code, nil
}

// PendingCode returns the code last issued to number.
func (s *Store) PendingCode(number string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.codes[number]
	return code, ok
}

// Register creates the account for number with its primary device.
func (s *Store) Register(number, code, password, signalingKey string, registrationID uint32) (uuid.UUID, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, ok := s.codes[number]; !ok || pending != code {
		return uuid.Nil, errInvalidCode
	}
	if _, ok := s.accounts[number]; ok {
		return uuid.Nil, errAlreadyExists
	}
	delete(s.codes, number)

	acct := &account{
		number:     number,
		uuid:       uuid.New(),
		devices:    make(map[int]*device),
		nextDevice: 2,
	}
	acct.devices[1] = &device{
		id:             1,
		passwordHash:   hash,
		signalingKey:   signalingKey,
		registrationID: registrationID,
		created:        time.Now().UTC(),
	}
	s.accounts[number] = acct
	return acct.uuid, nil
}

// IssueLinkCode creates a one-time code that lets a new device join the
// account of number.
func (s *Store) IssueLinkCode(number string) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[number]; !ok {
		return "", errNotFound
	}
	s.linkCodes[code] = number
	return code, nil
}

// LinkDevice adds a device to the account the code was issued for.
func (s *Store) LinkDevice(number, code, password, signalingKey string, registrationID uint32) (int, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.linkCodes[code]
	if !ok || owner != number {
		return 0, errInvalidCode
	}
	acct, ok := s.accounts[number]
	if !ok {
		return 0, errNotFound
	}
	delete(s.linkCodes, code)

	id := acct.nextDevice
	acct.nextDevice++
	acct.devices[id] = &device{
		id:             id,
		passwordHash:   hash,
		signalingKey:   signalingKey,
		registrationID: registrationID,
		created:        time.Now().UTC(),
	}
	return id, nil
}

// Authenticate checks password against the stored hash of number.deviceID.
func (s *Store) Authenticate(number string, deviceID int, password string) bool {
	s.mu.RLock()
	var hash []byte
	if acct, ok := s.accounts[number]; ok {
		if d, ok := acct.devices[deviceID]; ok {
			hash = d.passwordHash
		}
	}
	s.mu.RUnlock()

	if hash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// SetKeys replaces the key material of number.deviceID.
func (s *Store) SetKeys(number string, deviceID int, identityKey string, signed signedPreKey, keys []preKey, lastResort *preKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[number]
	if !ok {
		return errNotFound
	}
	d, ok := acct.devices[deviceID]
	if !ok {
		return errNotFound
	}
	acct.identityKey = identityKey
	d.signedPreKey = &signed
	d.preKeys = append([]preKey(nil), keys...)
	d.lastResortKey = lastResort
	return nil
}

// KeyCount returns how many one-time pre-keys number.deviceID has left.
func (s *Store) KeyCount(number string, deviceID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[number]
	if !ok {
		return 0, errNotFound
	}
	d, ok := acct.devices[deviceID]
	if !ok {
		return 0, errNotFound
	}
	return len(d.preKeys), nil
}

type deviceKeys struct {
	DeviceID       int           `json:"deviceId"`
	RegistrationID uint32        `json:"registrationId"`
	SignedPreKey   *signedPreKey `json:"signedPreKey"`
	PreKey         *preKey       `json:"preKey"`
}

type keysResponse struct {
	IdentityKey string       `json:"identityKey"`
	Devices     []deviceKeys `json:"devices"`
}

// TakeKeys returns the keys of one device of number, or all of them when
// deviceID is 0, consuming one pre-key per device. Devices that never
// uploaded keys are skipped.
func (s *Store) TakeKeys(number string, deviceID int) (*keysResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[number]
	if !ok {
		return nil, errNotFound
	}

	ids := make([]int, 0, len(acct.devices))
	if deviceID == 0 {
		for id := range acct.devices {
			ids = append(ids, id)
		}
		sort.Ints(ids)
	} else {
		if _, ok := acct.devices[deviceID]; !ok {
			return nil, errNotFound
		}
		ids = append(ids, deviceID)
	}

	out := &keysResponse{IdentityKey: acct.identityKey, Devices: []deviceKeys{}}
	for _, id := range ids {
		d := acct.devices[id]
		if d.signedPreKey == nil {
			continue
		}
		dk := deviceKeys{DeviceID: id, RegistrationID: d.registrationID, SignedPreKey: d.signedPreKey}
		if len(d.preKeys) > 0 {
			pk := d.preKeys[0]
			d.preKeys = d.preKeys[1:]
			dk.PreKey = &pk
		}
		out.Devices = append(out.Devices, dk)
	}
	if deviceID != 0 && len(out.Devices) == 0 {
		return nil, errNotFound
	}
	return out, nil
}

func queueKey(number string, deviceID int) string {
	return number + "." + strconv.Itoa(deviceID)
}

// Deliver queues envs for the devices of destination. Every envelope must
// name an existing device.
func (s *Store) Deliver(destination string, envs []Envelope, devices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[destination]
	if !ok {
		return errNotFound
	}
	for _, id := range devices {
		if _, ok := acct.devices[id]; !ok {
			return errUnknownDevices
		}
	}
	for i, env := range envs {
		k := queueKey(destination, devices[i])
		s.queues[k] = append(s.queues[k], env)
	}
	return nil
}

// Pending drains the queued envelopes of number.deviceID.
func (s *Store) Pending(number string, deviceID int) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := queueKey(number, deviceID)
	out := s.queues[k]
	delete(s.queues, k)
	return out
}

// AllocateAttachment reserves a new attachment id.
func (s *Store) AllocateAttachment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strconv.FormatUint(s.nextAttach, 10)
	s.nextAttach++
	s.allocated[id] = true
	return id
}

// HasAttachment reports whether an upload for id has completed.
func (s *Store) HasAttachment(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.attachments[id]
	return ok
}

// PutBlob stores the bytes of an allocated attachment.
func (s *Store) PutBlob(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allocated[id] {
		return errNotFound
	}
	s.attachments[id] = data
	return nil
}

// Blob returns the stored bytes of id.
func (s *Store) Blob(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.attachments[id]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}
