package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/app"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/config"
	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/credential"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// readConfig reads the config file named by the defaults.
func readConfig() (*config.Config, app.Defaults, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, app.Defaults{}, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, app.Defaults{}, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a ZeApp. The caller must defer
// app.Close(). adjust, if non-nil, applies command-line overrides.
func newApp(cmd *cobra.Command, adjust func(*config.Config)) (*app.ZeApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewZeApp(cmd.Context(), cfg, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func projectOptions(cmd *cobra.Command) app.ProjectOptions {
	pkg, _ := cmd.Flags().GetString("package")
	mf, _ := cmd.Flags().GetString("federation")
	return app.ProjectOptions{PackagePath: pkg, FederationPath: mf}
}

var rootCmd = &cobra.Command{
	Use:          "zd",
	Short:        "Deploy federated front-end builds to the edge",
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		userUUID := uuid.New().String()
		cfg := config.NewConfig(userUUID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("User UUID: %s\n", userUUID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("User UUID:  %s\n", cfg.UserUUID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Edge API:   %s\n", cfg.Edge.APIURL)
		fmt.Printf("Repository: %s/%s\n", cfg.Repository.Org, cfg.Repository.Project)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		for _, t := range cfg.Targets {
			platform := t.Platform
			if platform == "" {
				platform = "(default)"
			}
			fmt.Printf("Target:     %-10s %-12s %s\n", t.Type, platform, t.Name)
		}
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the edge API token",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		tokenFile, _ := cmd.Flags().GetString("token-file")

		token, err := readToken(tokenFile)
		if err != nil {
			return err
		}
		store := credential.NewTokenStore(cfg.Auth.TokenPath, cfg.Auth.IdentityPath)
		if err := store.Save(token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		fmt.Printf("Token stored at %s\n", cfg.Auth.TokenPath)
		return nil
	},
}

// readToken reads the token from path, from stdin when path is "-",
// or from an echo-free terminal prompt when path is empty.
func readToken(path string) (string, error) {
	var raw string
	switch path {
	case "":
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal available for token prompt (use --token-file)")
		}
		fmt.Fprint(os.Stderr, "API token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		raw = string(b)
	case "-":
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading token from stdin: %w", err)
		}
		raw = line
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		raw = string(b)
	}

	token := strings.TrimSpace(raw)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		store := credential.NewTokenStore(cfg.Auth.TokenPath, cfg.Auth.IdentityPath)
		if err := store.Delete(); err != nil {
			return fmt.Errorf("removing token: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the API token comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		switch {
		case cfg.Auth.TokenEnv != "" && os.Getenv(cfg.Auth.TokenEnv) != "":
			fmt.Printf("Using token from $%s\n", cfg.Auth.TokenEnv)
		case credential.NewTokenStore(cfg.Auth.TokenPath, cfg.Auth.IdentityPath).IsConfigured():
			fmt.Printf("Using stored token at %s\n", cfg.Auth.TokenPath)
		default:
			fmt.Println("Not logged in.")
		}
		return nil
	},
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve remote dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		deps, err := a.Resolve(cmd.Context(), projectOptions(cmd))
		if err != nil {
			return fmt.Errorf("resolve failed: %w", err)
		}
		if len(deps) == 0 {
			fmt.Println("No remote dependencies resolved.")
			return nil
		}
		for _, d := range deps {
			fmt.Printf("%-20s %-30s %-10s %s\n", d.Name, d.ApplicationUID, d.Version, d.RemoteEntryURL)
		}
		return nil
	},
}

// deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy DIR",
	Short: "Upload a build output directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		basePath, _ := cmd.Flags().GetString("base-path")
		out, _ := cmd.Flags().GetString("out")
		stats, _ := cmd.Flags().GetString("stats")

		a, err := newApp(cmd, func(cfg *config.Config) {
			if cmd.Flags().Changed("base-path") {
				cfg.Build.BasePath = basePath
			}
		})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Deploy(cmd.Context(), app.DeployOptions{
			ProjectOptions: projectOptions(cmd),
			Dir:            args[0],
			BuildStatsPath: stats,
			OutPath:        out,
		})
		if err != nil {
			return fmt.Errorf("deploy failed: %w", err)
		}

		s := result.Summary
		fmt.Printf("Deployed %s (build %s, #%d)\n", s.ApplicationUID, s.BuildID, result.HistoryID)
		fmt.Printf("Version:  %s\n", s.Version)
		fmt.Printf("Uploaded: %d of %d asset(s) in %s\n", s.UploadedCount, s.AssetCount, s.Elapsed.Truncate(time.Millisecond))
		if len(s.Dependencies) > 0 {
			fmt.Printf("Remotes:  %s\n", strings.Join(s.Dependencies, ", "))
		}
		fmt.Println(s.VersionURL)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View build history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		builds, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(builds) == 0 {
			fmt.Println("No builds recorded.")
			return nil
		}
		for _, b := range builds {
			duration := ""
			if b.FinishedAt.Valid {
				duration = b.FinishedAt.Time.Sub(b.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-30s  %s  %-8s  %-10s  %s\n",
				b.ID,
				b.ApplicationUID,
				b.StartedAt.Format("2006-01-02 15:04:05"),
				b.Status,
				duration,
				b.VersionURL,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one build and its snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}

		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		b, snap, err := a.HistoryBuild(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Build:       #%d\n", b.ID)
		fmt.Printf("Application: %s\n", b.ApplicationUID)
		fmt.Printf("Status:      %s\n", b.Status)
		if b.Error != "" {
			fmt.Printf("Error:       %s\n", b.Error)
		}
		fmt.Printf("Build ID:    %s\n", b.BuildID)
		fmt.Printf("Snapshot:    %s\n", b.SnapshotID)
		fmt.Printf("Version:     %s\n", b.Version)
		fmt.Printf("Version URL: %s\n", b.VersionURL)
		fmt.Printf("Assets:      %d (%d uploaded)\n", b.AssetCount, b.UploadedCount)
		if snap == nil {
			return nil
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		fmt.Printf("\n%s\n", data)
		return nil
	},
}

var historyBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Copy the build history database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupHistory(args[0]); err != nil {
			return err
		}
		fmt.Printf("Build history copied to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// auth subcommands
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authLoginCmd.Flags().String("token-file", "", "Read the token from a file, or - for stdin")

	// history subcommands
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyBackupCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of builds to show")

	for _, c := range []*cobra.Command{resolveCmd, deployCmd} {
		c.Flags().String("package", "package.json", "Path to package.json")
		c.Flags().String("federation", "", "Path to the module federation config (.json, .jsonc, .yaml)")
	}
	deployCmd.Flags().String("base-path", "", "Path prefix for every asset in the snapshot")
	deployCmd.Flags().String("out", "", "Write the rewritten federation config to this file")
	deployCmd.Flags().String("stats", "", "Path to a JSON build stats file")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(historyCmd)
}
