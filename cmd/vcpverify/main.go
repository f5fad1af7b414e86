// Command vcpverify is the offline verifier: it re-derives every
// cryptographic claim in a sealed event log (hashes, signatures, sequence
// continuity, the prev_hash chain, Merkle roots, and anchor proofs)
// without trusting the service that produced the log. Subcommand tree
// grounded on the ecosystem's spf13/cobra convention, since no repo in
// the retrieval pack exercises a CLI framework for this kind of tool.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/verify"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vcpverify",
		Short: "Offline verification for a Verifiable Chain Protocol event log",
	}
	root.AddCommand(newReportCmd())
	root.AddCommand(newKeysCmd())
	return root
}

func newReportCmd() *cobra.Command {
	var (
		eventLogPath string
		anchorDir    string
		keyPaths     []string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Verify a sealed event log and print a findings report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := store.Replay(eventLogPath)
			if err != nil {
				return fmt.Errorf("replay event log: %w", err)
			}

			var anchors []store.AnchorRecord
			if anchorDir != "" {
				as, err := store.OpenAnchorStore(anchorDir)
				if err != nil {
					return fmt.Errorf("open anchor store: %w", err)
				}
				anchors, err = as.List()
				if err != nil {
					return fmt.Errorf("list anchors: %w", err)
				}
			}

			keys, err := verify.LoadKeySet(keyPaths)
			if err != nil {
				return fmt.Errorf("load key set: %w", err)
			}

			report := verify.Verify(events, anchors, keys)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.OK {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventLogPath, "events", "", "path to the sealed event log file (required)")
	cmd.Flags().StringVar(&anchorDir, "anchors", "", "path to the anchor record directory")
	cmd.Flags().StringArrayVar(&keyPaths, "key", nil, "path to a public key export JSON file (repeatable)")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing key material",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	cmd.AddCommand(newKeysExportCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var privPath, pubPath string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new Ed25519 signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.Generate()
			if err != nil {
				return fmt.Errorf("generate key pair: %w", err)
			}
			if err := os.WriteFile(privPath, s.Seed(), 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := store.SavePublicKey(pubPath, s.Export()); err != nil {
				return fmt.Errorf("write public key export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated key %s\n", s.KeyID())
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "priv-out", "vcp_signing.key", "output path for the private key material")
	cmd.Flags().StringVar(&pubPath, "pub-out", "vcp_signing.pub.json", "output path for the public key export")
	return cmd
}

func newKeysExportCmd() *cobra.Command {
	var privPath, pubPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the public key for an existing signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.LoadFromFiles(privPath, "")
			if err != nil {
				return fmt.Errorf("load signing key: %w", err)
			}
			if err := store.SavePublicKey(pubPath, s.Export()); err != nil {
				return fmt.Errorf("write public key export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported key %s\n", s.KeyID())
			return nil
		},
	}
	cmd.Flags().StringVar(&privPath, "priv", "", "path to the existing private key material (required)")
	cmd.Flags().StringVar(&pubPath, "pub-out", "vcp_signing.pub.json", "output path for the public key export")
	_ = cmd.MarkFlagRequired("priv")
	return cmd
}
