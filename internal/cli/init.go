package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/pollmark/internal/config"
	"github.com/spf13/cobra"
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

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s. Put your token in %s or a .env file.\n", configDir, config.DefaultTokenEnv)
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
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# pollmark configuration

client:
  type: api                      # api or feed
  base_url: https://api.twitter.com
  token_env: POLLMARK_TOKEN
  timeout: 15s
  # feed client instead:
  # type: feed
  # feed_url: https://mastodon.social/@someone.rss
  # account: someone

sources:
  - name: home
    kind: timeline
  - name: mentions
    kind: mentions
  - name: inbox
    kind: direct_messages
    track: false

schedule:
  mode: rate_limit               # rate_limit or fixed
  interval: 60s                  # fixed delay, or fallback when the rate limit is unknown
  min_interval: 5s

metadata:
  backend: sqlite                # sqlite, postgres or memory
  # postgres:
  #   host: localhost
  #   port: 5432
  #   user: pollmark
  #   password_env: POLLMARK_PG_PASSWORD
  #   database: pollmark
  #   table: pollmark_markers

storage:
  path: .pollmark/pollmark.db
  retain_days: 30
  # redact:                      # regexps masked in archived text
  #   - "(?i)password: \\S+"

log:
  level: info
  format: console
`
