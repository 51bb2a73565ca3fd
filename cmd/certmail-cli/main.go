package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/corvusHold/certmail/internal/vault"
)

var (
	cfgFile   string
	apiURL    string
	provider  string
	mode      string
	verbose   bool
	outputFmt string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "certmail-cli",
	Short: "certmail CLI - email generated certificates to a roster",
	Long: `certmail-cli submits certificate batches to the certmail API.
Mail credentials are held encrypted in process memory for at most an hour
and are never written to disk.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			fmt.Printf("API URL: %s\n", apiURL)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.certmail.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "certmail API base URL")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "delivery backend (hosted, direct)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "sending strategy (sequential, pooled); empty lets the server choose")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format (table, json)")

	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))

	sendCmd.Flags().String("roster", "", "CSV roster with email,name[,file] columns")
	sendCmd.Flags().String("images", ".", "directory holding the rendered certificates")
	sendCmd.MarkFlagRequired("roster")

	statsCmd.Flags().String("window", "24h", "look-back window")

	rootCmd.AddCommand(validateCmd, sendCmd, sessionCmd, batchCmd, statsCmd, providersCmd, healthCmd, configCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".certmail")
	}

	viper.SetEnvPrefix("CERTMAIL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Printf("Using config file: %s\n", viper.ConfigFileUsed())
	}

	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
	if provider == "" {
		provider = viper.GetString("provider")
	}
	if mode == "" {
		mode = viper.GetString("mode")
	}

	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	if provider == "" {
		provider = "hosted"
	}
}

// newApp builds a client and a vault bound to a fresh session.
func newApp() (*app, error) {
	sess, err := vault.NewSession()
	if err != nil {
		return nil, err
	}
	return &app{
		client: NewClient(strings.TrimRight(apiURL, "/")),
		vault:  vault.New(vault.NewMemoryStore(), sess),
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a mail credential against its provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.vault.Clear(ctx)
		_, err = a.login(ctx)
		return err
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Email each roster entry its certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		roster, _ := cmd.Flags().GetString("roster")
		images, _ := cmd.Flags().GetString("images")
		recipients, err := loadRosterFile(roster, images)
		if err != nil {
			return err
		}
		logVerbose("Loaded %d recipients from %s", len(recipients), roster)

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.vault.Clear(ctx)
		resp, err := a.send(ctx, recipients, provider, mode)
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			return formatOutput(resp)
		}
		printSummary(os.Stdout, resp)
		if !resp.Success {
			return fmt.Errorf("%d of %d certificates failed", len(resp.Errors), len(recipients))
		}
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Interactive session that keeps the credential between sends",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.vault.Close()
		defer a.vault.Clear(context.Background())
		return a.runSession(ctx, provider, mode)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Show the recorded outcome of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := NewClient(strings.TrimRight(apiURL, "/")).Batch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			return formatOutput(b)
		}
		fmt.Printf("%-36s %-8s %-10s %-10s %s\n", "EMAIL", "OK", "PROVIDER", "MODE", "DETAIL")
		fmt.Println(strings.Repeat("-", 90))
		for _, e := range b.Entries {
			ok, detail := "yes", e.MessageID
			if !e.Success {
				ok, detail = "no", e.Error
			}
			fmt.Printf("%-36s %-8s %-10s %-10s %s\n", e.Email, ok, e.Provider, e.Mode, detail)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count sent and failed certificates over a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetString("window")
		st, err := NewClient(strings.TrimRight(apiURL, "/")).Stats(cmd.Context(), window)
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			return formatOutput(st)
		}
		fmt.Printf("Since %s: %d sent, %d failed\n", st.Since, st.Sent, st.Failed)
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported sender domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := NewClient(strings.TrimRight(apiURL, "/")).Providers(cmd.Context())
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			return formatOutput(list)
		}
		fmt.Printf("%-20s %-20s %-15s\n", "NAME", "PATTERN", "CLASS")
		fmt.Println(strings.Repeat("-", 57))
		for _, p := range list {
			fmt.Printf("%-20s %-20s %-15s\n", p.Name, p.Pattern, p.Class)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check API health",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := NewClient(strings.TrimRight(apiURL, "/")).Health(cmd.Context())
		if err != nil {
			return err
		}
		if outputFmt == "json" {
			return formatOutput(h)
		}
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-10s: %v\n", k, h[k])
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Current Configuration:")
		fmt.Printf("API URL:  %s\n", apiURL)
		fmt.Printf("Provider: %s\n", provider)
		fmt.Printf("Mode:     %s\n", orDefault(mode, "(server decides)"))
		if viper.ConfigFileUsed() != "" {
			fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
		}
	},
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func formatOutput(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func logVerbose(format string, args ...interface{}) {
	if verbose {
		log.Printf("[VERBOSE] "+format, args...)
	}
}
