package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sgcars-go/internal/app"
	"sgcars-go/internal/config"
	"sgcars-go/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo. confirm asks twice.
func readPassphrase(prompt string, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase must be entered on a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(r *app.Report) {
	if r.Error != "" {
		fmt.Printf("%-10s  FAILED  %s\n", r.Dataset, r.Error)
		return
	}
	fmt.Printf("%-10s  %-14s  %6d  %s\n", r.Dataset, r.Result.Outcome, r.Result.RecordsProcessed, r.Result.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:          "sgcars",
	Short:        "Keep a database of LTA vehicle datasets up to date",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Println("Run `sgcars db migrate` to create the database.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Cache:      %s %s\n", cfg.Cache.Type, cfg.Cache.Path)
		fmt.Printf("Vault:      %s\n", cfg.Vault.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Batch Size: %d\n", cfg.Updater.BatchSize)
		fmt.Printf("Datasets:   %d\n", len(cfg.Datasets))

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nProblems:\n%v\n", err)
		}
		return nil
	},
}

// datasets command
var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List configured datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		for _, d := range cfg.Datasets {
			fmt.Printf("%-10s  table=%-8s  file=%-26s  keys=%s\n",
				d.Name, d.Table, d.File, strings.Join(d.KeyFields, ","))
		}
		return nil
	},
}

// update command
var updateCmd = &cobra.Command{
	Use:   "update [DATASET...]",
	Short: "Fetch datasets and insert new records",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")
		if all == (len(args) > 0) {
			return fmt.Errorf("name one or more datasets, or pass --all")
		}

		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		var reports []*app.Report
		var runErr error
		if all {
			reports, runErr = a.UpdateAll(cmd.Context())
		} else {
			for _, name := range args {
				rep, err := a.Update(cmd.Context(), name)
				if rep != nil {
					reports = append(reports, rep)
				}
				if err != nil {
					runErr = errors.Join(runErr, fmt.Errorf("%s: %w", name, err))
				}
			}
		}

		if asJSON {
			if err := printJSON(reports); err != nil {
				return err
			}
		} else {
			for _, r := range reports {
				printReport(r)
			}
		}
		return runErr
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [DATASET]",
	Short: "View update run history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		dataset := ""
		if len(args) > 0 {
			dataset = args[0]
		}
		runs, err := a.History(cmd.Context(), dataset, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No update runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.Duration().Truncate(time.Millisecond).String()
			}
			detail := r.Message
			if r.Error != "" {
				detail = r.Error
			}
			fmt.Printf("%s  %-8s  %s  %-14s  %6d  %-8s  %s\n",
				shortID(r.ID),
				r.Dataset,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				r.RecordsProcessed,
				duration,
				detail,
			)
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts and latest months per dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(statuses)
		}

		for _, s := range statuses {
			last := "never"
			if s.LastRunAt != nil {
				last = fmt.Sprintf("%s (%s)", s.LastRunAt.Format("2006-01-02 15:04:05"), s.LastStatus)
			}
			fmt.Printf("%-10s  rows=%-8d  latest=%-8s  last run: %s\n",
				s.Dataset, s.Summary.Rows, s.Summary.LatestMonth, last)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP update trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.Config().Server.Addr
		}
		return server.New(a, a.Logger()).ListenAndServe(cmd.Context(), addr)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("New passphrase: ", true)
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect retained archives",
}

var archiveListCmd = &cobra.Command{
	Use:   "list DATASET",
	Short: "List retained archives of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		sums, err := a.Archives(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No archives retained.")
		}
		for _, s := range sums {
			fmt.Println(s)
		}
		return nil
	},
}

var archiveGetCmd = &cobra.Command{
	Use:   "get DATASET CHECKSUM OUTPUT",
	Short: "Restore a retained archive to a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase := ""
		if a.Config().Encryption.Type == "age" {
			passphrase, err = readPassphrase("Passphrase: ", false)
			if err != nil {
				return err
			}
		}

		out, err := os.OpenFile(args[2], os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if err := a.RestoreArchive(cmd.Context(), args[0], args[1], passphrase, out); err != nil {
			out.Close()
			os.Remove(args[2])
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing output file: %w", err)
		}

		fmt.Printf("Restored %s/%s to %s\n", args[0], args[1], args[2])
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{SkipMigrationCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(); err != nil {
			return err
		}
		current, _, _, err := a.SchemaStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", current)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{SkipMigrationCheck: true})
		if err != nil {
			return err
		}
		defer a.Close()

		current, latest, dirty, err := a.SchemaStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d (latest %d)\n", current, latest)
		if dirty {
			fmt.Println("Database is dirty: a previous migration failed.")
		} else if current < latest {
			fmt.Println("Run `sgcars db migrate` to upgrade.")
		}
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup [PATH]",
	Short: "Snapshot the database to a file and/or the vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		dest := ""
		if len(args) > 0 {
			dest = args[0]
		}
		if err := a.BackupDatabase(cmd.Context(), dest); err != nil {
			return err
		}
		fmt.Println("Database backed up.")
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveGetCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().Bool("all", false, "Update every configured dataset")
	updateCmd.Flags().Bool("json", false, "Print results as JSON")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "Print status as JSON")
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(dbCmd)
}
