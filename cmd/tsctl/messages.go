package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/spf13/cobra"
)

var sendFile string

var sendCmd = &cobra.Command{
	Use:   "send <destination> --file messages.json",
	Short: "Send a batch of encrypted messages to a number",
	Long: `send delivers already-encrypted messages, one per destination device.

The file holds a JSON array; body is base64 ciphertext:

  [{"type": 1, "destinationDeviceId": 1, "destinationRegistrationId": 4242,
    "body": "Mwj...", "timestamp": 1700000000000}]

A missing timestamp is set to the current time. The relay and timestamp of
the first message apply to the whole batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := readMessages(sendFile, time.Now())
		if err != nil {
			return err
		}
		if err := sess.api.SendMessages(cmd.Context(), args[0], msgs); err != nil {
			return describe("send", err)
		}
		return emit(cmd.OutOrStdout(), map[string]any{"destination": args[0], "sent": len(msgs)}, func(w io.Writer) {
			fmt.Fprintf(w, "✓ Sent %d message(s) to %s\n", len(msgs), args[0])
		})
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "messages JSON file")
	_ = sendCmd.MarkFlagRequired("file")
}

type messageJSON struct {
	Type                      int    `json:"type"`
	DestinationDeviceID       int    `json:"destinationDeviceId"`
	DestinationRegistrationID uint32 `json:"destinationRegistrationId"`
	Body                      []byte `json:"body"`
	Timestamp                 int64  `json:"timestamp"`
	Relay                     string `json:"relay"`
}

func readMessages(path string, now time.Time) ([]client.OutgoingMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var in []messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse messages %s: %w", path, err)
	}
	if len(in) == 0 {
		return nil, fmt.Errorf("messages %s: %w", path, client.ErrEmptyBatch)
	}

	out := make([]client.OutgoingMessage, 0, len(in))
	for i, m := range in {
		if m.DestinationDeviceID < 1 {
			return nil, fmt.Errorf("messages %s: entry %d has no destinationDeviceId", path, i)
		}
		if m.Type == 0 {
			m.Type = client.MessageTypeCiphertext
		}
		if m.Timestamp == 0 {
			m.Timestamp = now.UnixMilli()
		}
		out = append(out, client.OutgoingMessage(m))
	}
	return out, nil
}
