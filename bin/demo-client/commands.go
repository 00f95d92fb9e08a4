package main

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/glowlabs-org/demo-master/client"
	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

func signStartCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sign-start",
		Short: "Request a nonce and a signed start message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, signedStart, err := newClient().SignStart(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, signedStart, 0644); err != nil {
				return errors.Wrap(err, "unable to save signed start message")
			}
			fmt.Printf("Nonce: %s\nSigned start message written to %s\n", nonce, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "start.sig", "file to write the signed start message to")
	return cmd
}

func signEndCmd() *cobra.Command {
	var start, out string
	cmd := &cobra.Command{
		Use:   "sign-end <demo file>",
		Short: "Have the master sign the end of a recorded demo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checksum, err := checksumFile(args[0])
			if err != nil {
				return err
			}
			signedStart, err := os.ReadFile(start)
			if err != nil {
				return errors.Wrap(err, "unable to read signed start message")
			}
			signedEnd, err := newClient().SignEnd(cmd.Context(), checksum, signedStart)
			if errors.Is(err, client.ErrRejected) {
				return errors.New("the master did not accept the signed start message")
			} else if err != nil {
				return err
			}
			if err := os.WriteFile(out, signedEnd, 0644); err != nil {
				return errors.Wrap(err, "unable to save signed end message")
			}
			fmt.Printf("Checksum: %x\nSigned end message written to %s\n", checksum, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&start, "start", "s", "start.sig", "signed start message from sign-start")
	cmd.Flags().StringVarP(&out, "out", "o", "end.sig", "file to write the signed end message to")
	return cmd
}

func verifyCmd() *cobra.Command {
	var start, end, authorityURL, pubKeyFile, scheme, keyID string
	cmd := &cobra.Command{
		Use:   "verify <demo file>",
		Short: "Check a demo against its signed start and end messages",
		Long: `verify checks that the end message extends the start message, that both
are signed by the master, and that the demo file matches the checksum in
the end message. The master's key is fetched from --authority, or read
from --pubkey.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var authority client.Authority
			switch {
			case authorityURL != "":
				a, err := client.FetchAuthority(cmd.Context(), authorityURL)
				if err != nil {
					return err
				}
				authority = a
			case pubKeyFile != "":
				pub, err := os.ReadFile(pubKeyFile)
				if err != nil {
					return errors.Wrap(err, "unable to read public key")
				}
				id, verifier, err := signing.IdentityFromPublicKey(scheme, pub, keyID)
				if err != nil {
					return err
				}
				authority = client.Authority{Identity: id, Verifier: verifier}
			default:
				return errors.New("one of --authority or --pubkey is required")
			}

			checksum, err := checksumFile(args[0])
			if err != nil {
				return err
			}
			signedStart, err := os.ReadFile(start)
			if err != nil {
				return errors.Wrap(err, "unable to read signed start message")
			}
			signedEnd, err := os.ReadFile(end)
			if err != nil {
				return errors.Wrap(err, "unable to read signed end message")
			}
			att, err := signing.VerifyDemo(authority.Verifier, authority.Identity, signedStart, signedEnd, checksum[:])
			if err != nil {
				return errors.Wrap(err, "demo does not verify")
			}
			fmt.Printf("OK: nonce %s, recorded %s to %s\n", att.Nonce, demo.FormatTime(att.StartTime), demo.FormatTime(att.EndTime))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&start, "start", "s", "start.sig", "signed start message")
	f.StringVarP(&end, "end", "e", "end.sig", "signed end message")
	f.StringVar(&authorityURL, "authority", "", "base URL of the master's HTTP API")
	f.StringVar(&pubKeyFile, "pubkey", "", "file holding the master's public key")
	f.StringVar(&scheme, "scheme", signing.SchemeOpenPGP, "signing scheme of --pubkey")
	f.StringVar(&keyID, "key-id", "", "key to use when --pubkey holds several")
	return cmd
}

func addCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register this host with the master's server list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noWait {
				return demo.SendPacket(masterAddr, demo.PacketTypeAdd, nil)
			}
			added, err := newClient().Add(cmd.Context())
			if err != nil {
				return err
			}
			if !added {
				return errors.New("the master's server list is full")
			}
			fmt.Println("Added")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "send a single ADD without waiting for the response")
	return cmd
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "List the registered game servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := newClient().Query(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range servers {
				fmt.Println(s)
			}
			return nil
		},
	}
}

func metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Print the metadata of the registered game servers as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := newClient().GetMetadata(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(servers)
		},
	}
}

// checksumFile returns the SHA-1 of a recorded demo.
func checksumFile(path string) ([demo.ChecksumSize]byte, error) {
	var sum [demo.ChecksumSize]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, errors.Wrap(err, "unable to open demo")
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, errors.Wrap(err, "unable to read demo")
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
