package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paystream-io/auditanchor/pkg/client"
	"github.com/paystream-io/auditanchor/pkg/proofbundle"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "Audit anchoring CLI",
	Long: `auditctl is the command-line interface for the auditanchor service.

It submits audit log records for anchoring, verifies that anchored
records have not been tampered with, and exports proof bundles that can
be re-verified fully offline.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditanchor")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "anchord base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditanchor/config.yaml)")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the bundle to a file instead of stdout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verifyRecordCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(verifyBundleCmd)
	rootCmd.AddCommand(chainCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the auditctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("auditctl", version)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit a log record for anchoring (JSON from file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}

		var rec client.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}

		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := client.New(serverURL).Submit(ctx, &rec); err != nil {
			return err
		}
		fmt.Printf("accepted %s\n", rec.ID)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <log-id>",
	Short: "Verify the stored anchor and inclusion proof for a log ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()

		result, err := client.New(serverURL).Verify(ctx, args[0])
		if err != nil {
			return err
		}
		return printVerifyResult(result)
	},
}

var verifyRecordCmd = &cobra.Command{
	Use:   "verify-record [file]",
	Short: "Verify a full record's content against its anchor (JSON from file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}
		var rec client.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}

		ctx, cancel := timeoutCtx()
		defer cancel()
		result, err := client.New(serverURL).VerifyRecord(ctx, &rec)
		if err != nil {
			return err
		}
		return printVerifyResult(result)
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <log-id> [log-id...]",
	Short: "Export a self-contained proof bundle for the given log IDs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()

		bundle, err := client.New(serverURL).ExportProofs(ctx, args)
		if err != nil {
			return err
		}

		data, err := bundle.Encode()
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("write bundle: %w", err)
		}
		fmt.Printf("wrote %d proof(s) to %s\n", len(bundle.Entries), exportOut)
		return nil
	},
}

var verifyBundleCmd = &cobra.Command{
	Use:   "verify-bundle <file>",
	Short: "Verify an exported proof bundle offline (no network, no store)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}

		bundle, err := proofbundle.Decode(data)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOG ID\tVALID")
		invalid := 0
		for _, r := range bundle.Verify() {
			fmt.Fprintf(w, "%s\t%v\n", r.LogID, r.Valid)
			if !r.Valid {
				invalid++
			}
		}
		w.Flush()

		if invalid > 0 {
			return fmt.Errorf("%d of %d proof(s) INVALID", invalid, len(bundle.Entries))
		}
		fmt.Printf("all %d proof(s) valid\n", len(bundle.Entries))
		return nil
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show the anchoring chain overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()

		info, err := client.New(serverURL).Chain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("anchored:  %d\n", info.Anchored)
		fmt.Printf("pending:   %d\n", info.Pending)
		fmt.Printf("last hash: %s\n", info.LastHash)
		return nil
	},
}

func printVerifyResult(result *client.VerifyResult) error {
	if result.Verified {
		fmt.Printf("VERIFIED %s\n", result.LogID)
		fmt.Printf("  log hash:         %s\n", result.LogHash)
		fmt.Printf("  merkle root:      %s\n", result.MerkleRoot)
		fmt.Printf("  oracle height:    %d\n", result.OracleHeight)
		fmt.Printf("  oracle timestamp: %s\n", time.Unix(result.OracleTimestamp, 0).UTC().Format(time.RFC3339))
		return nil
	}
	check := result.FailedCheck
	if check == "" {
		check = result.Error
	}
	return fmt.Errorf("NOT VERIFIED: %s", check)
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", args[0], err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

func timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
