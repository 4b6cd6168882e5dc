package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage pre-keys",
}

func init() {
	keysCmd.AddCommand(keysCountCmd)
	keysCmd.AddCommand(keysFetchCmd)
	keysCmd.AddCommand(keysRegisterCmd)
}

// ── keys count ───────────────────────────────────────────────────────────────

var keysCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show how many one-time pre-keys the server holds for this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := sess.api.GetMyKeyCount(cmd.Context())
		if err != nil {
			return describe("key count", err)
		}
		return emit(cmd.OutOrStdout(), map[string]int{"count": n}, func(w io.Writer) {
			fmt.Fprintln(w, n)
		})
	},
}

// ── keys fetch ───────────────────────────────────────────────────────────────

var keysFetchDevice int

var keysFetchCmd = &cobra.Command{
	Use:   "fetch <number>",
	Short: "Fetch the pre-key bundles of a number's devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := sess.api.GetKeysForNumber(cmd.Context(), args[0], keysFetchDevice)
		if err != nil {
			return describe("fetch keys", err)
		}
		return emit(cmd.OutOrStdout(), remoteKeysOutput(keys), func(w io.Writer) {
			printRemoteKeys(w, keys)
		})
	},
}

func init() {
	keysFetchCmd.Flags().IntVar(&keysFetchDevice, "device", client.AllDevices, "device id; 0 fetches every device")
}

// remoteKeysJSON is the --format json form of client.RemoteKeys. Byte
// fields are base64-encoded by encoding/json.
type remoteKeysJSON struct {
	IdentityKey []byte           `json:"identityKey"`
	Devices     []deviceKeysJSON `json:"devices"`
}

type deviceKeysJSON struct {
	DeviceID       int               `json:"deviceId"`
	RegistrationID uint32            `json:"registrationId"`
	SignedPreKey   *signedPreKeyJSON `json:"signedPreKey,omitempty"`
	PreKey         *preKeyJSON       `json:"preKey,omitempty"`
}

type signedPreKeyJSON struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

type preKeyJSON struct {
	KeyID     uint32 `json:"keyId"`
	PublicKey []byte `json:"publicKey"`
}

func remoteKeysOutput(k *client.RemoteKeys) remoteKeysJSON {
	out := remoteKeysJSON{IdentityKey: k.IdentityKey, Devices: make([]deviceKeysJSON, 0, len(k.Devices))}
	for _, d := range k.Devices {
		dk := deviceKeysJSON{DeviceID: d.DeviceID, RegistrationID: d.RegistrationID}
		if d.SignedPreKey != nil {
			dk.SignedPreKey = &signedPreKeyJSON{d.SignedPreKey.KeyID, d.SignedPreKey.PublicKey, d.SignedPreKey.Signature}
		}
		if d.PreKey != nil {
			dk.PreKey = &preKeyJSON{d.PreKey.KeyID, d.PreKey.PublicKey}
		}
		out.Devices = append(out.Devices, dk)
	}
	return out
}

func printRemoteKeys(w io.Writer, k *client.RemoteKeys) {
	fmt.Fprintf(w, "Identity key: %s\n\n", base64.StdEncoding.EncodeToString(k.IdentityKey))
	if len(k.Devices) == 0 {
		fmt.Fprintln(w, "No devices with keys.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tREGISTRATION\tSIGNED KEY\tPRE-KEY")
	for _, d := range k.Devices {
		signed, pre := "-", "-"
		if d.SignedPreKey != nil {
			signed = strconv.FormatUint(uint64(d.SignedPreKey.KeyID), 10)
		}
		if d.PreKey != nil {
			pre = strconv.FormatUint(uint64(d.PreKey.KeyID), 10)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", d.DeviceID, d.RegistrationID, signed, pre)
	}
	tw.Flush()
}

// ── keys register ────────────────────────────────────────────────────────────

var keysRegisterFile string

var keysRegisterCmd = &cobra.Command{
	Use:   "register --file bundle.json",
	Short: "Upload this device's identity key, signed pre-key and pre-keys",
	Long: `register uploads a pre-key bundle produced by the local key store.

The file holds base64 byte fields:

  {
    "identityKey": "BQ...",
    "signedPreKey": {"keyId": 1, "publicKey": "BQ...", "signature": "..."},
    "preKeys": [{"keyId": 1, "publicKey": "BQ..."}]
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := readBundle(keysRegisterFile)
		if err != nil {
			return err
		}
		if err := sess.api.RegisterKeys(cmd.Context(), *bundle); err != nil {
			return describe("register keys", err)
		}
		return emit(cmd.OutOrStdout(), map[string]int{"uploaded": len(bundle.PreKeys)}, func(w io.Writer) {
			fmt.Fprintf(w, "✓ Uploaded %d pre-keys\n", len(bundle.PreKeys))
		})
	},
}

func init() {
	keysRegisterCmd.Flags().StringVar(&keysRegisterFile, "file", "", "pre-key bundle JSON file")
	_ = keysRegisterCmd.MarkFlagRequired("file")
}

type bundleFile struct {
	IdentityKey  []byte           `json:"identityKey"`
	SignedPreKey signedPreKeyJSON `json:"signedPreKey"`
	PreKeys      []preKeyJSON     `json:"preKeys"`
}

func readBundle(path string) (*client.PreKeyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var f bundleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	if len(f.IdentityKey) == 0 || len(f.SignedPreKey.PublicKey) == 0 {
		return nil, fmt.Errorf("bundle %s: identityKey and signedPreKey are required", path)
	}

	out := &client.PreKeyBundle{
		IdentityKey: f.IdentityKey,
		SignedPreKey: client.SignedPreKey{
			KeyID:     f.SignedPreKey.KeyID,
			PublicKey: f.SignedPreKey.PublicKey,
			Signature: f.SignedPreKey.Signature,
		},
		PreKeys: make([]client.PreKey, 0, len(f.PreKeys)),
	}
	for _, pk := range f.PreKeys {
		out.PreKeys = append(out.PreKeys, client.PreKey{KeyID: pk.KeyID, PublicKey: pk.PublicKey})
	}
	return out, nil
}
