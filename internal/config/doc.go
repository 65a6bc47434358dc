// Package config handles configuration loading for feishu-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Files ending in .toml are decoded as TOML, anything else as YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FEISHU_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/feishu-bridge/config.yaml
//  3. ~/.config/feishu-bridge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	feishu:
//	  app_secret: "${FEISHU_APP_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	feishu:
//	  app_id: "cli_xxx"
//	  app_secret: "${FEISHU_APP_SECRET}"
//	  verification_token: ""     # checked against inbound events when set
//	  encrypt_key: ""            # enables {"encrypt": ...} payload decryption
//	  request_timeout: "30s"
//
//	streaming:
//	  enabled: true
//	  provider: "openai"         # openai, dify
//	  reply_mode: false          # forced on when memory is enabled
//	  update_interval: "200ms"
//	  create_timeout: "10s"
//	  patch_wait: "2s"
//	  request_timeout: "120s"
//	  log_interval: "3s"
//	  openai:
//	    api_url: "https://api.openai.com/v1/chat/completions"
//	    api_key: "${OPENAI_API_KEY}"
//	    model: "gpt-4o"
//	    system_prompt: ""
//	  dify:
//	    api_url: "https://api.dify.ai/v1"
//	    api_key: "${DIFY_API_KEY}"
//	    app_type: "chat"         # chat, workflow
//	  memory:
//	    enabled: false
//	    max_messages: 0          # 0 means unlimited
//	  log:
//	    enabled: false
//	    dir: "logs/conversations"
//	    max_files: 0             # 0 keeps every file
//
//	relay:
//	  urls: ["https://example.com/hook"]
//	  timeout: "30s"
//	  signing_secret: ""         # signs an HS256 bearer token per delivery
//	  redis:
//	    enabled: false
//	    addr: "localhost:6379"
//	    stream: "feishu-bridge.events"
//
//	proxy:
//	  enabled: false
//	  auth_secret: ""
//
//	dedupe:
//	  ttl: "5m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
