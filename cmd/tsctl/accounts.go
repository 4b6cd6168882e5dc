package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/spf13/cobra"
)

// ── request-code ─────────────────────────────────────────────────────────────

var requestCodeVoice bool

var requestCodeCmd = &cobra.Command{
	Use:   "request-code <number>",
	Short: "Ask the server to send a verification code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transport := client.TransportSMS
		if requestCodeVoice {
			transport = client.TransportVoice
		}
		if err := sess.api.RequestVerificationCode(cmd.Context(), args[0], transport); err != nil {
			return describe("request code", err)
		}
		return emit(cmd.OutOrStdout(), map[string]string{"number": args[0], "transport": string(transport)}, func(w io.Writer) {
			fmt.Fprintf(w, "Verification code sent to %s by %s\n", args[0], transport)
		})
	},
}

func init() {
	requestCodeCmd.Flags().BoolVar(&requestCodeVoice, "voice", false, "deliver the code by voice call instead of SMS")
}

// ── confirm ──────────────────────────────────────────────────────────────────

var (
	confirmPassword       string
	confirmSignalingKey   string
	confirmRegistrationID uint32
	confirmLinked         bool
)

var confirmCmd = &cobra.Command{
	Use:   "confirm <number> <code>",
	Short: "Complete registration with a verification code",
	Long: `confirm registers this device with the code received by request-code.

Without --password a random password is generated and printed; store it as
credentials.password. Use --linked to join an existing account as an
additional device with a provisioning code.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfirm,
}

func init() {
	confirmCmd.Flags().StringVar(&confirmPassword, "password", "", "account password (generated when empty)")
	confirmCmd.Flags().StringVar(&confirmSignalingKey, "signaling-key", "", "base64 signaling key (generated when empty)")
	confirmCmd.Flags().Uint32Var(&confirmRegistrationID, "registration-id", 0, "registration id of this install")
	confirmCmd.Flags().BoolVar(&confirmLinked, "linked", false, "link to an existing account instead of registering the number")
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

func runConfirm(cmd *cobra.Command, args []string) error {
	password := confirmPassword
	if password == "" {
		b, err := randomBytes(16)
		if err != nil {
			return err
		}
		password = base64.RawStdEncoding.EncodeToString(b)
	}

	var signalingKey []byte
	if confirmSignalingKey != "" {
		k, err := base64.StdEncoding.DecodeString(confirmSignalingKey)
		if err != nil {
			return fmt.Errorf("--signaling-key: %w", err)
		}
		signalingKey = k
	} else {
		// 32 bytes AES key followed by 20 bytes MAC key.
		k, err := randomBytes(52)
		if err != nil {
			return err
		}
		signalingKey = k
	}

	res, err := sess.api.ConfirmCode(cmd.Context(), client.Confirmation{
		Number:         args[0],
		Code:           args[1],
		Password:       password,
		SignalingKey:   signalingKey,
		RegistrationID: confirmRegistrationID,
		SingleDevice:   !confirmLinked,
	})
	if err != nil {
		return describe("confirm", err)
	}

	out := struct {
		Number       string `json:"number"`
		DeviceID     int    `json:"device_id"`
		UUID         string `json:"uuid,omitempty"`
		Password     string `json:"password"`
		SignalingKey string `json:"signaling_key"`
	}{args[0], res.DeviceID, res.UUID, password, base64.StdEncoding.EncodeToString(signalingKey)}

	return emit(cmd.OutOrStdout(), out, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Registered %s as device %d\n\n", out.Number, out.DeviceID)
		if out.UUID != "" {
			fmt.Fprintf(w, "  UUID:          %s\n", out.UUID)
		}
		fmt.Fprintf(w, "  Password:      %s\n", out.Password)
		fmt.Fprintf(w, "  Signaling key: %s\n\n", out.SignalingKey)
		fmt.Fprintln(w, "Save these under credentials: in ~/.textsecure/config.yaml")
	})
}
