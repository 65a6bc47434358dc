// ABOUTME: Interactive config generator for the init command
// ABOUTME: Prompts for credentials, backend and relay settings and writes YAML

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything the init command asks for.
type initAnswers struct {
	httpAddr          string
	appID             string
	appSecret         string
	verificationToken string
	encryptKey        string
	mode              string
	streaming         bool
	provider          string
	apiURL            string
	apiKey            string
	model             string
	memory            bool
	relayURLs         []string
	logLevel          string
	logFormat         string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("feishu-bridge configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	a := askInit(reader)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  feishu-bridge serve\n")
	return nil
}

func askInit(reader *bufio.Reader) initAnswers {
	var a initAnswers

	fmt.Println("\n--- Server ---")
	a.httpAddr = prompt(reader, "HTTP address", "0.0.0.0:8080")

	fmt.Println("\n--- Feishu App ---")
	a.appID = prompt(reader, "App ID", "${FEISHU_APP_ID}")
	a.appSecret = prompt(reader, "App secret", "${FEISHU_APP_SECRET}")
	a.verificationToken = prompt(reader, "Verification token (empty to skip)", "")
	a.encryptKey = prompt(reader, "Encrypt key (empty to skip)", "")
	a.mode = strings.ToLower(prompt(reader, "Event intake (webhook/ws)", "webhook"))

	fmt.Println("\n--- Streaming Replies ---")
	a.streaming = yes(prompt(reader, "Enable streaming replies?", "yes"))
	if a.streaming {
		a.provider = strings.ToLower(prompt(reader, "Provider (openai/dify)", "openai"))
		if a.provider == "dify" {
			a.apiURL = prompt(reader, "Dify API URL", "https://api.dify.ai/v1")
			a.apiKey = prompt(reader, "Dify API key", "${DIFY_API_KEY}")
		} else {
			a.apiURL = prompt(reader, "Chat completions URL", "https://api.openai.com/v1/chat/completions")
			a.apiKey = prompt(reader, "API key", "${OPENAI_API_KEY}")
			a.model = prompt(reader, "Model", "gpt-4o")
		}
		a.memory = yes(prompt(reader, "Enable multi-turn memory?", "no"))
	}

	fmt.Println("\n--- Relay ---")
	if urls := prompt(reader, "Relay URLs (comma separated, empty for none)", ""); urls != "" {
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				a.relayURLs = append(a.relayURLs, u)
			}
		}
	}

	fmt.Println("\n--- Logging ---")
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")
	return a
}

// renderConfig produces the YAML document for a.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# feishu-bridge configuration\n")
	cfg.WriteString("# Generated by feishu-bridge init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.httpAddr)

	cfg.WriteString("feishu:\n")
	fmt.Fprintf(&cfg, "  app_id: %q\n", a.appID)
	fmt.Fprintf(&cfg, "  app_secret: %q\n", a.appSecret)
	if a.verificationToken != "" {
		fmt.Fprintf(&cfg, "  verification_token: %q\n", a.verificationToken)
	}
	if a.encryptKey != "" {
		fmt.Fprintf(&cfg, "  encrypt_key: %q\n", a.encryptKey)
	}
	if a.mode != "" {
		fmt.Fprintf(&cfg, "  mode: %q\n", a.mode)
	}
	cfg.WriteString("\n")

	cfg.WriteString("streaming:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.streaming)
	if a.streaming {
		fmt.Fprintf(&cfg, "  provider: %q\n", a.provider)
		if a.provider == "dify" {
			cfg.WriteString("  dify:\n")
			fmt.Fprintf(&cfg, "    api_url: %q\n", a.apiURL)
			fmt.Fprintf(&cfg, "    api_key: %q\n", a.apiKey)
			cfg.WriteString("    app_type: \"chat\"\n")
		} else {
			cfg.WriteString("  openai:\n")
			fmt.Fprintf(&cfg, "    api_url: %q\n", a.apiURL)
			fmt.Fprintf(&cfg, "    api_key: %q\n", a.apiKey)
			fmt.Fprintf(&cfg, "    model: %q\n", a.model)
		}
		cfg.WriteString("  memory:\n")
		fmt.Fprintf(&cfg, "    enabled: %t\n", a.memory)
		cfg.WriteString("    max_messages: 20\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("relay:\n")
	if len(a.relayURLs) == 0 {
		cfg.WriteString("  urls: []\n")
	} else {
		cfg.WriteString("  urls:\n")
		for _, u := range a.relayURLs {
			fmt.Fprintf(&cfg, "    - %q\n", u)
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.logFormat)

	return cfg.String()
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
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
