package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pharmatrust/pharmaledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	authToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pharmactl",
	Short: "pharmaledger CLI",
	Long: `pharmactl is the command-line interface for a pharmaledger server.

It verifies the transaction chain, inspects entity histories, exports the
full chain for audit, and exchanges the admin secret for operator tokens.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.pharmactl")
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
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.pharmactl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "pharmaledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "operator Bearer token for mutating commands")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	return client.New(serverURL, opts...)
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run a full integrity check over the transaction chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		overview, err := c.Overview(ctx)
		if err != nil {
			return fmt.Errorf("fetch overview: %w", err)
		}
		res, err := c.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify chain: %w", err)
		}

		if res.Valid {
			fmt.Printf("✓ Chain valid (%d transactions)\n", overview.Transactions)
			fmt.Printf("  Root: %s\n", overview.Root)
			return nil
		}

		fmt.Printf("✗ Chain INVALID — %d violation(s)\n\n", len(res.Violations))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tTRANSACTION\tKIND\tDETAIL")
		for _, v := range res.Violations {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", v.Index, v.TransactionID, v.Kind, v.Detail)
		}
		w.Flush()
		os.Exit(1)
		return nil
	},
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chain statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		stats, err := c.Statistics(context.Background())
		if err != nil {
			return fmt.Errorf("fetch statistics: %w", err)
		}

		fmt.Printf("Transactions:    %d\n", stats.TotalTransactions)
		fmt.Printf("Unique entities: %d\n", stats.UniqueEntities)
		if stats.ChainIntegrity.Valid {
			fmt.Printf("Integrity:       valid\n")
		} else {
			fmt.Printf("Integrity:       INVALID (%d violations)\n", len(stats.ChainIntegrity.Violations))
		}

		if len(stats.ByKind) > 0 {
			fmt.Println("\nBy type:")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for kind, n := range stats.ByKind {
				fmt.Fprintf(w, "  %s\t%d\n", kind, n)
			}
			w.Flush()
		}
		return nil
	},
}

// ── recent ───────────────────────────────────────────────────────────────────

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent transactions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		txs, err := c.Recent(context.Background(), recentLimit)
		if err != nil {
			return fmt.Errorf("fetch transactions: %w", err)
		}
		return printTransactionTable(txs)
	},
}

func init() {
	recentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "Maximum number of transactions")
}

// ── history ──────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history <entity-id>",
	Short: "Show every transaction for one drug or prescription, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		txs, err := c.History(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		if len(txs) == 0 {
			fmt.Printf("No transactions for entity %s\n", args[0])
			return nil
		}
		return printTransactionTable(txs)
	},
}

// ── export ───────────────────────────────────────────────────────────────────

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full chain including genesis as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		chain, err := c.Export(context.Background())
		if err != nil {
			return fmt.Errorf("export chain: %w", err)
		}

		out := os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(chain); err != nil {
			return fmt.Errorf("encode chain: %w", err)
		}
		if exportOutput != "" {
			fmt.Printf("✓ Exported %d transactions to %s\n", len(chain), exportOutput)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret string
	tokenName   string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the admin secret for an operator token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		tok, err := c.FetchToken(context.Background(), tokenSecret, tokenName, tokenRole)
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}

		fmt.Println(tok)
		fmt.Fprintln(os.Stderr, "\nPass it with --token, or save it to ~/.pharmactl/config.yaml as token: <value>")
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Admin secret configured on the server")
	tokenCmd.Flags().StringVar(&tokenName, "name", "operator", "Operator name recorded on transactions")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "pharmacist", "Operator role recorded on transactions")
	_ = tokenCmd.MarkFlagRequired("secret")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pharmactl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pharmactl %s\n", version)
	},
}

// printTransactionTable renders transactions with tabwriter.
func printTransactionTable(txs []client.Transaction) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTIME\tTYPE\tENTITY\tQTY\tNEW\tBY\tHASH")
	for _, tx := range txs {
		ts := time.UnixMilli(tx.Timestamp).UTC().Format("2006-01-02 15:04:05")
		hash := tx.Hash
		if len(hash) > 12 {
			hash = hash[:12] + "…"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			tx.Index, ts, tx.Type, tx.EntityName,
			strconv.Itoa(tx.Quantity), tx.NewQuantity,
			tx.PerformedBy, hash,
		)
	}
	return w.Flush()
}
