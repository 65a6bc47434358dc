// ABOUTME: Entry point for the feishu-bridge server
// ABOUTME: Bridges Feishu chat events to LLM backends and relays them to subscribers

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/null-object-0000/feishu-bridge/internal/auth"
	"github.com/null-object-0000/feishu-bridge/internal/config"
	"github.com/null-object-0000/feishu-bridge/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __      _     _                 _          _     _
 / _| ___(_)___| |__  _   _      | |__  _ __(_) __| | __ _  ___
| |_ / _ \ / __| '_ \| | | |_____| '_ \| '__| |/ _' |/ _' |/ _ \
|  _|  __/ \__ \ | | | |_| |_____| |_) | |  | | (_| | (_| |  __/
|_|  \___|_|___/_| |_|\__,_|     |_.__/|_|  |_|\__,_|\__, |\___|
                                                     |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: FEISHU_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/feishu-bridge/config.yaml > ~/.config/feishu-bridge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FEISHU_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "feishu-bridge", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: feishu-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the bridge server")
		fmt.Println("  init                         Create a new config file interactively")
		fmt.Println("  check-config                 Validate the config file and print a summary")
		fmt.Println("  token --subject NAME [--ttl] Issue a bearer token for the API proxy")
		fmt.Println("  health                       Check bridge health")
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
	case "check-config":
		err = runCheckConfig()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
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

	printSummary(configPath, cfg)

	logger.Info("starting feishu-bridge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"streaming", cfg.Streaming.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// printSummary writes the startup overview shown by serve and check-config.
func printSummary(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("App", cfg.Feishu.AppID)
	line("Intake", cfg.Feishu.Mode)

	green.Print("    ▶ ")
	fmt.Printf("%-10s ", "Streaming:")
	if cfg.Streaming.Enabled {
		fmt.Print(cfg.Streaming.Provider)
		if cfg.Streaming.EffectiveReplyMode() {
			gray.Print(" [reply]")
		}
		if cfg.Streaming.Memory.Enabled {
			gray.Printf(" [memory %d]", cfg.Streaming.Memory.MaxMessages)
		}
	} else {
		yellow.Print("disabled")
	}
	fmt.Println()

	destinations := len(cfg.Relay.URLs)
	if cfg.Relay.Redis.Enabled {
		destinations++
	}
	line("Relay", fmt.Sprintf("%d destination(s)", destinations))

	if cfg.Proxy.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s /api/feishu", "Proxy:")
		if cfg.Proxy.AuthSecret == "" {
			yellow.Print(" [no auth]")
		}
		fmt.Println()
	}

	fmt.Println()
}

func runCheckConfig() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	printSummary(configPath, cfg)
	color.New(color.FgGreen).Println("  ✓ Config is valid")
	return nil
}

// tokenArgs are the flags accepted by the token command.
type tokenArgs struct {
	subject string
	ttl     time.Duration
}

// parseTokenArgs accepts both "--flag value" and "--flag=value" forms.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: 30 * 24 * time.Hour}

	value := func(i *int, name string) (string, error) {
		arg := args[*i]
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, nil
		}
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || strings.HasPrefix(arg, "--subject="):
			v, err := value(&i, "--subject")
			if err != nil {
				return out, err
			}
			out.subject = strings.TrimSpace(v)
		case arg == "--ttl" || strings.HasPrefix(arg, "--ttl="):
			v, err := value(&i, "--ttl")
			if err != nil {
				return out, err
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return out, fmt.Errorf("invalid --ttl: %w", err)
			}
			if d <= 0 {
				return out, fmt.Errorf("--ttl must be positive")
			}
			out.ttl = d
		case strings.HasPrefix(arg, "-"):
			return out, fmt.Errorf("unknown flag: %s", arg)
		default:
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if out.subject == "" {
		return out, fmt.Errorf("--subject flag is required")
	}
	return out, nil
}

// runToken issues an HS256 token accepted by the API proxy.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Proxy.AuthSecret == "" {
		return fmt.Errorf("proxy.auth_secret not configured (required for tokens)")
	}

	token, err := auth.NewSigner([]byte(cfg.Proxy.AuthSecret)).Sign(parsed.subject, uuid.NewString(), parsed.ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "subject %s, expires %s\n", parsed.subject, time.Now().Add(parsed.ttl).UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", healthHost(cfg.Server.HTTPAddr))
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

// healthHost maps a wildcard listen address to loopback.
func healthHost(addr string) string {
	switch {
	case strings.HasPrefix(addr, "0.0.0.0:"):
		return "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	case strings.HasPrefix(addr, ":"):
		return "127.0.0.1" + addr
	}
	return addr
}
