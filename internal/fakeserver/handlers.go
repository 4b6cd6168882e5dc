package fakeserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/textsecure/pkg/address"
	"go.uber.org/zap"
)

// statusFor maps store errors onto the statuses a TextSecure server uses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidCode):
		return http.StatusForbidden
	case errors.Is(err, errAlreadyExists):
		return http.StatusExpectationFailed
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUnknownDevices):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ── Accounts and devices ─────────────────────────────────────────────────

type confirmRequest struct {
	SignalingKey    string `json:"signalingKey"`
	SupportsSMS     bool   `json:"supportsSms"`
	FetchesMessages bool   `json:"fetchesMessages"`
	RegistrationID  uint32 `json:"registrationId"`
}

func (s *Server) requestCode(c *gin.Context) {
	transport := c.Param("transport")
	if transport != "sms" && transport != "voice" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transport must be sms or voice"})
		return
	}
	addr, err := address.New(c.Param("number"), address.PrimaryDevice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := s.store.IssueCode(addr.Number)
	if err != nil {
		s.abort(c, err)
		return
	}
	// There is no SMS gateway; the log is the delivery channel.
	s.logger.Info("verification code issued",
		zap.String("number", addr.Number),
		zap.String("transport", transport),
		zap.String("code", code),
	)
	c.Status(http.StatusOK)
}

// bindConfirm reads the credentials and body shared by account and device
// confirmation.
func (s *Server) bindConfirm(c *gin.Context) (*address.Address, string, *confirmRequest, bool) {
	addr, password, ok := basicCredentials(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return nil, "", nil, false
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, "", nil, false
	}
	if _, err := base64.StdEncoding.DecodeString(req.SignalingKey); err != nil || req.SignalingKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signalingKey must be base64"})
		return nil, "", nil, false
	}
	return addr, password, &req, true
}

func (s *Server) confirmAccount(c *gin.Context) {
	addr, password, req, ok := s.bindConfirm(c)
	if !ok {
		return
	}
	id, err := s.store.Register(addr.Number, c.Param("code"), password, req.SignalingKey, req.RegistrationID)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.logger.Info("account registered", zap.String("number", addr.Number), zap.String("uuid", id.String()))
	c.JSON(http.StatusOK, gin.H{"uuid": id.String()})
}

func (s *Server) provisioningCode(c *gin.Context) {
	code, err := s.store.IssueLinkCode(callerOf(c).Number)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verificationCode": code})
}

func (s *Server) confirmDevice(c *gin.Context) {
	addr, password, req, ok := s.bindConfirm(c)
	if !ok {
		return
	}
	deviceID, err := s.store.LinkDevice(addr.Number, c.Param("code"), password, req.SignalingKey, req.RegistrationID)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.logger.Info("device linked", zap.String("number", addr.Number), zap.Int("device_id", deviceID))
	c.JSON(http.StatusOK, gin.H{"deviceId": deviceID})
}

// ── Keys ─────────────────────────────────────────────────────────────────

type putKeysRequest struct {
	IdentityKey   string        `json:"identityKey"`
	SignedPreKey  *signedPreKey `json:"signedPreKey"`
	PreKeys       []preKey      `json:"preKeys"`
	LastResortKey *preKey       `json:"lastResortKey"`
}

func validBase64(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
		if _, err := base64.StdEncoding.DecodeString(v); err != nil {
			return false
		}
	}
	return true
}

func (r *putKeysRequest) validate() error {
	if r.SignedPreKey == nil || r.LastResortKey == nil {
		return errors.New("signedPreKey and lastResortKey are required")
	}
	if !validBase64(r.IdentityKey, r.SignedPreKey.PublicKey, r.SignedPreKey.Signature, r.LastResortKey.PublicKey) {
		return errors.New("key fields must be non-empty base64")
	}
	for _, pk := range r.PreKeys {
		if !validBase64(pk.PublicKey) {
			return errors.New("preKeys must carry base64 public keys")
		}
	}
	return nil
}

func (s *Server) putKeys(c *gin.Context) {
	var req putKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := callerOf(c)
	if err := s.store.SetKeys(caller.Number, caller.DeviceID, req.IdentityKey, *req.SignedPreKey, req.PreKeys, req.LastResortKey); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) keyCount(c *gin.Context) {
	caller := callerOf(c)
	n, err := s.store.KeyCount(caller.Number, caller.DeviceID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) getKeys(c *gin.Context) {
	deviceID := 0
	if d := c.Param("device"); d != "*" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device must be * or a positive integer"})
			return
		}
		deviceID = n
	}
	keys, err := s.store.TakeKeys(c.Param("number"), deviceID)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// ── Messages ─────────────────────────────────────────────────────────────

type incomingMessage struct {
	Type                      int    `json:"type"`
	DestinationDeviceID       int    `json:"destinationDeviceId"`
	DestinationRegistrationID uint32 `json:"destinationRegistrationId"`
	Body                      string `json:"body"`
	Timestamp                 int64  `json:"timestamp"`
	Relay                     string `json:"relay"`
}

type sendMessagesRequest struct {
	Messages  []incomingMessage `json:"messages"`
	Relay     string            `json:"relay"`
	Timestamp int64             `json:"timestamp"`
}

func (s *Server) sendMessages(c *gin.Context) {
	var req sendMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages must not be empty"})
		return
	}
	// Federation is not simulated, so every relay is unknown.
	if req.Relay != "" {
		s.abort(c, errNotFound)
		return
	}

	caller := callerOf(c)
	envs := make([]Envelope, 0, len(req.Messages))
	devices := make([]int, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !validBase64(m.Body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message body must be base64"})
			return
		}
		envs = append(envs, Envelope{
			ID:             uuid.New(),
			Source:         caller.Number,
			SourceDevice:   caller.DeviceID,
			Type:           m.Type,
			Body:           m.Body,
			Relay:          m.Relay,
			Timestamp:      m.Timestamp,
			RegistrationID: m.DestinationRegistrationID,
		})
		devices = append(devices, m.DestinationDeviceID)
	}

	if err := s.store.Deliver(c.Param("destination"), envs, devices); err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"needsSync": false})
}

// ── Attachments ──────────────────────────────────────────────────────────

func (s *Server) allocateAttachment(c *gin.Context) {
	id := s.store.AllocateAttachment()
	c.JSON(http.StatusOK, gin.H{
		"id":       json.Number(id),
		"location": s.location(id),
	})
}

func (s *Server) attachmentLocation(c *gin.Context) {
	id := c.Param("id")
	if !s.store.HasAttachment(id) {
		s.abort(c, errNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": s.location(id)})
}

func (s *Server) putBlob(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxAttachmentBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if err := s.store.PutBlob(c.Param("id"), data); err != nil {
		// Storage answers unknown upload targets like an expired signature.
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getBlob(c *gin.Context) {
	data, err := s.store.Blob(c.Param("id"))
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
