package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rsspinger/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if wrote {
		fmt.Printf("Initialized %s. Set feed.url and export TELEGRAM_TOKEN, then run rsspinger serve.\n", configDir)
	} else {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# rsspinger configuration
# RSS_URL, TELEGRAM_TOKEN, CHAT_ID, CHECK_TIMEOUT (seconds) and LOG_LEVEL override these values.

feed:
  url: "https://example.com/podcast.rss"
  timeout: 20s
  max_bytes: 10485760

telegram:
  token_env: TELEGRAM_TOKEN
  chat_id: 0          # chat watched on startup, 0 = wait for /start
  allowed_chats: []   # empty = any chat may use /start
  api_endpoint: ""

watch:
  interval: 60s       # default for /start without an argument
  skip_backlog: false # true = first check only remembers the newest item

storage:
  path: .rsspinger/rsspinger.db
  retain_days: 30
  disabled: false

message:
  redact: []
  # - "(?i)token=\\w+"

log:
  level: info
  format: console
  file: ""
`
