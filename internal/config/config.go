package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config filename looked up in the working directory
// and, dot-prefixed, in $HOME. `config init` writes it here too.
const DefaultPath = "incidentbridge.toml"

// Config represents the application configuration
type Config struct {
	Topdesk struct {
		URL      string `koanf:"url"`
		Username string `koanf:"username"`
		Password string `koanf:"password"`
	} `koanf:"topdesk"`

	Jira struct {
		URL                    string `koanf:"url"`
		Username               string `koanf:"username"`
		Password               string `koanf:"password"`
		ProjectKey             string `koanf:"project_key"`
		IssueType              string `koanf:"issue_type"`
		ExternalReferenceField string `koanf:"external_reference_field"`
	} `koanf:"jira"`

	Sync struct {
		IntervalSeconds int `koanf:"interval_seconds"`
		PageSize        int `koanf:"page_size"`
	} `koanf:"sync"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"jira.issue_type":       "Task",
		"sync.interval_seconds": 30,
		"sync.page_size":        100,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./" + DefaultPath, "$HOME/." + DefaultPath}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix INCIDENTBRIDGE_
	// e.g. INCIDENTBRIDGE_JIRA_PASSWORD -> jira.password
	k.Load(env.Provider("INCIDENTBRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "INCIDENTBRIDGE_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# incidentbridge configuration

[topdesk]
url = "https://topdesk.example.com"
username = "sync-operator"
password = "your-topdesk-password"

[jira]
url = "https://jira.example.com"
username = "sync-bot"
password = "your-jira-password"
project_key = "OPS"
issue_type = "Task"
# Custom field that carries the Topdesk incident number, e.g. "customfield_10100"
external_reference_field = "customfield_10100"

[sync]
interval_seconds = 30
page_size = 100
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Topdesk.URL == "" {
		return fmt.Errorf("topdesk url is required")
	}
	if config.Topdesk.Username == "" || config.Topdesk.Password == "" {
		return fmt.Errorf("topdesk credentials are required")
	}

	if config.Jira.URL == "" {
		return fmt.Errorf("jira url is required")
	}
	if config.Jira.Username == "" || config.Jira.Password == "" {
		return fmt.Errorf("jira credentials are required")
	}
	if config.Jira.ProjectKey == "" {
		return fmt.Errorf("jira project_key is required")
	}
	if config.Jira.ExternalReferenceField == "" {
		return fmt.Errorf("jira external_reference_field is required")
	}

	if config.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync interval_seconds must be positive")
	}
	if config.Sync.PageSize <= 0 {
		return fmt.Errorf("sync page_size must be positive")
	}

	return nil
}
