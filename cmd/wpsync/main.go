package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"wpsync/internal/app"
	"wpsync/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "ListPlugins", "SyncActivity").
func newApp(operation string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// withApp runs fn against a fresh App and records a failure in the log.
func withApp(operation string, fn func(a *app.App) error) error {
	a, err := newApp(operation)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(a); err != nil {
		a.Fail(err)
		return err
	}
	return nil
}

func readConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, err
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID %q", kind, raw)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:          "wpsync",
	Short:        "Manage WordPress.com site plugins, activity and post content",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration, encryption key and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := app.Initialize(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Key:      %s\n", cfg.Encryption.KeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Database:      %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Encryption:    %s %s\n", cfg.Encryption.Type, cfg.Encryption.KeyPath)
		fmt.Printf("API:           %s\n", cfg.API.BaseURL)
		fmt.Printf("Directory API: %s\n", cfg.API.DirectoryURL)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage WordPress.com accounts",
}

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account from an OAuth token read from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken()
		if err != nil {
			return err
		}

		return withApp("AddAccount", func(a *app.App) error {
			account, err := a.AddAccount(cmd.Context(), token)
			if err != nil {
				return err
			}
			fmt.Printf("Added account %s (%d)\n", account.Username, account.ID)
			return nil
		})
	},
}

// readToken prompts for a token without echo on a terminal, and reads the
// first line of stdin otherwise.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Token: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading token from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ListAccounts", func(a *app.App) error {
			current, ok := a.CurrentAccount()
			secondary := a.SecondaryAccounts()
			if !ok && len(secondary) == 0 {
				fmt.Println("No accounts.")
				return nil
			}
			if ok {
				fmt.Printf("* %-10d %s\n", current.ID, current.Username)
			}
			for _, account := range secondary {
				fmt.Printf("  %-10d %s\n", account.ID, account.Username)
			}
			return nil
		})
	},
}

var accountUseCmd = &cobra.Command{
	Use:   "use ACCOUNT_ID",
	Short: "Make an account the current account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("account", args[0])
		if err != nil {
			return err
		}
		return withApp("UseAccount", func(a *app.App) error {
			if err := a.UseAccount(id); err != nil {
				return err
			}
			fmt.Printf("Current account: %d\n", id)
			return nil
		})
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove ACCOUNT_ID",
	Short: "Remove an account and its stored token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("account", args[0])
		if err != nil {
			return err
		}
		return withApp("RemoveAccount", func(a *app.App) error {
			if err := a.RemoveAccount(id); err != nil {
				return err
			}
			fmt.Printf("Removed account %d\n", id)
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// account subcommands
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountUseCmd)
	accountCmd.AddCommand(accountRemoveCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(contentCmd)
}
