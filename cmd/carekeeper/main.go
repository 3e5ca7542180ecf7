// ABOUTME: Entry point for the carekeeper companion daemon and its control commands
// ABOUTME: serve runs the daemon; the other commands talk to a running daemon's control API

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/carekeeper/internal/companion"
	"github.com/2389/carekeeper/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _
  ___ __ _ _ __ ___| | _____  ___ _ __   ___ _ __
 / __/ _' | '__/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|
| (_| (_| | | |  __/   <  __/  __/ |_) |  __/ |
 \___\__,_|_|  \___|_|\_\___|\___| .__/ \___|_|
                                 |_|
`

// getConfigPath returns the path to the companion config file.
// Priority: CAREKEEPER_CONFIG env var > XDG_CONFIG_HOME/carekeeper/companion.yaml > ~/.config/carekeeper/companion.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CAREKEEPER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "companion.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "carekeeper", "companion.yaml")
}

// getDataPath returns the path to the carekeeper data directory.
// Priority: XDG_DATA_HOME/carekeeper > ~/.local/share/carekeeper
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "carekeeper")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: carekeeper <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the companion daemon")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  health                 Check daemon health")
		fmt.Println("  status                 Show trigger, session, and upload state")
		fmt.Println("  login --email EMAIL    Sign in (password read from stdin)")
		fmt.Println("  logout                 Sign out")
		fmt.Println("  hold                   Press and hold the panic button")
		fmt.Println("  release                Release the panic button")
		fmt.Println("  reset                  Clear an active panic alert")
		fmt.Println("  reset-all [--yes]      Erase the session, settings, and contacts on this device")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "login":
		err = runLogin(ctx, os.Args[2:])
	case "logout":
		err = runAction(ctx, "/session/logout", "signed out")
	case "hold":
		err = runTrigger(ctx, "/panic/hold")
	case "release":
		err = runTrigger(ctx, "/panic/release")
	case "reset":
		err = runTrigger(ctx, "/panic/reset")
	case "reset-all":
		err = runResetAll(ctx, os.Args[2:], os.Stdin)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.URL)
	green.Print("    ▶ ")
	fmt.Printf("Control:   %s\n", cfg.Control.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Sensors:   %s", cfg.Sensors.Source)
	if cfg.Sensors.DenyLocation {
		yellow.Print(" [location denied]")
	}
	fmt.Println()
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Endpoint)
	}
	fmt.Println()

	logger.Info("starting carekeeper",
		"config", configPath,
		"backend", cfg.Backend.URL,
		"control_addr", cfg.Control.Addr,
	)

	c, err := companion.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating companion: %w", err)
	}

	return c.Run(ctx)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("carekeeper configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "companion.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Backend ---")
	cfg.Backend.URL = prompt(reader, "Backend URL", cfg.Backend.URL)

	fmt.Println("\n--- Database ---")
	cfg.Database.Path = prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Panic Button ---")
	cfg.Panic.HoldDurationRaw = prompt(reader, "Hold duration", cfg.Panic.HoldDurationRaw)

	fmt.Println("\n--- Sensors ---")
	cfg.Sensors.Source = prompt(reader, "Sensor source (simulated/passive)", cfg.Sensors.Source)

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	content := "# carekeeper configuration\n# Generated by carekeeper init\n\n" + string(data)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Catch typos now rather than at serve time
	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("config written to %s but invalid: %w", outputFile, err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the companion:")
	fmt.Printf("  carekeeper serve\n")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Control.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// statusView is the subset of GET /status printed by the status command.
type statusView struct {
	Trigger struct {
		Phase    string  `json:"phase"`
		Progress float64 `json:"progress"`
	} `json:"trigger"`
	AlertActive         bool   `json:"alert_active"`
	SessionValid        bool   `json:"session_valid"`
	Uploading           bool   `json:"uploading"`
	LocationGranted     bool   `json:"location_granted"`
	PermissionRequested bool   `json:"permission_requested"`
	PendingAlertID      string `json:"pending_alert_id"`
}

func runStatus(ctx context.Context) error {
	var st statusView
	if err := callControl(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	gray := color.New(color.FgHiBlack)

	flag := func(label string, on bool) {
		fmt.Printf("  %-18s", label)
		if on {
			green.Println("yes")
		} else {
			gray.Println("no")
		}
	}

	fmt.Printf("  %-18s", "Trigger")
	if st.Trigger.Phase == "triggered" {
		red.Println("TRIGGERED")
	} else {
		fmt.Printf("%s (%.0f%%)\n", st.Trigger.Phase, st.Trigger.Progress*100)
	}
	flag("Alert active", st.AlertActive)
	flag("Session valid", st.SessionValid)
	flag("Uploading", st.Uploading)
	flag("Location granted", st.LocationGranted)
	if st.PermissionRequested {
		color.New(color.FgYellow).Printf("  Alert %s waits for location permission\n", st.PendingAlertID)
	}
	return nil
}

func runLogin(ctx context.Context, args []string) error {
	var email string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--email" || arg == "-e":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("--email flag is required")
	}

	password := os.Getenv("CAREKEEPER_PASSWORD")
	if password == "" {
		password = prompt(bufio.NewReader(os.Stdin), "Password", "")
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	body := map[string]string{"email": email, "password": password}
	if err := callControl(ctx, http.MethodPost, "/session/login", body, nil); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ Signed in as %s\n", email)
	return nil
}

func runAction(ctx context.Context, path, done string) error {
	if err := callControl(ctx, http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ %s\n", done)
	return nil
}

func runResetAll(ctx context.Context, args []string, in io.Reader) error {
	if !confirmResetAll(args, bufio.NewReader(in)) {
		fmt.Println("  Aborted")
		return nil
	}
	return runAction(ctx, "/account/reset", "all local data erased, sign in again to resume monitoring")
}

// confirmResetAll accepts --yes or asks on the terminal.
func confirmResetAll(args []string, reader *bufio.Reader) bool {
	for _, a := range args {
		if a == "--yes" || a == "-y" {
			return true
		}
	}
	color.New(color.FgYellow).Println("  This erases the session, settings, and contacts stored on this device.")
	return isYes(prompt(reader, "Continue? (y/N)", "n"))
}

func runTrigger(ctx context.Context, path string) error {
	var st struct {
		Phase               string  `json:"phase"`
		Progress            float64 `json:"progress"`
		PermissionRequested bool    `json:"permission_requested"`
	}
	if err := callControl(ctx, http.MethodPost, path, nil, &st); err != nil {
		return err
	}
	fmt.Printf("  %s (%.0f%%)\n", st.Phase, st.Progress*100)
	if st.PermissionRequested {
		color.New(color.FgYellow).Println("  Alert waits for location permission")
	}
	return nil
}

// callControl sends one request to the running daemon's control API.
func callControl(ctx context.Context, method, path string, body, out any) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+cfg.Control.Addr+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting companion at %s: %w", cfg.Control.Addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s (status %d)", errResp.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
