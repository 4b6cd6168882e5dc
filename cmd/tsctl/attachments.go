package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/spf13/cobra"
)

var attachmentCmd = &cobra.Command{
	Use:   "attachment",
	Short: "Upload and download encrypted attachments",
}

func init() {
	attachmentCmd.AddCommand(attachmentGetCmd)
	attachmentCmd.AddCommand(attachmentPutCmd)
}

// ── attachment get ───────────────────────────────────────────────────────────

var attachmentOut string

var attachmentGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Download an attachment's encrypted bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := sess.api.GetAttachment(cmd.Context(), args[0])
		if err != nil {
			return describe("download attachment", err)
		}
		if attachmentOut == "" || attachmentOut == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(attachmentOut, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", attachmentOut, err)
		}
		return emit(cmd.ErrOrStderr(), map[string]any{"id": args[0], "bytes": len(data), "file": attachmentOut}, func(w io.Writer) {
			fmt.Fprintf(w, "✓ Wrote %d bytes to %s\n", len(data), attachmentOut)
		})
	},
}

func init() {
	attachmentGetCmd.Flags().StringVarP(&attachmentOut, "out", "o", "", "output file (default stdout)")
}

// ── attachment put ───────────────────────────────────────────────────────────

var attachmentPutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Upload already-encrypted attachment bytes and print the new id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		id, err := sess.api.PutAttachment(cmd.Context(), data)
		if err != nil {
			return describe("upload attachment", err)
		}
		return emit(cmd.OutOrStdout(), map[string]any{"id": id, "bytes": len(data)}, func(w io.Writer) {
			fmt.Fprintln(w, id)
		})
	},
}

// ── ws-url ───────────────────────────────────────────────────────────────────

var wsProvisioning bool

var wsURLCmd = &cobra.Command{
	Use:   "ws-url",
	Short: "Print the WebSocket URL for the push channel",
	Long: `ws-url prints the URL a WebSocket client connects to. The push URL
carries this device's credentials in its query; treat it as a secret.
With --provisioning it prints the unauthenticated provisioning URL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := client.EndpointPush
		if wsProvisioning {
			endpoint = client.EndpointTempPush
		}
		u, err := sess.api.WebSocketURL(cmd.Context(), endpoint)
		if err != nil {
			return describe("websocket url", err)
		}
		return emit(cmd.OutOrStdout(), map[string]string{"url": u}, func(w io.Writer) {
			fmt.Fprintln(w, u)
		})
	},
}

func init() {
	wsURLCmd.Flags().BoolVar(&wsProvisioning, "provisioning", false, "print the provisioning URL instead")
}
