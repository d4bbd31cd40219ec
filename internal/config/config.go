package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	GameDir   string `toml:"game_dir"`
	TempDir   string `toml:"temp_dir"`
	LogDir    string `toml:"log_dir"`
	CachePath string `toml:"cache_path"`
}

// Client describes the game client layout the patcher writes into.
type Client struct {
	DefaultArchive string `toml:"default_archive"`
	ArchivePrefix  string `toml:"archive_prefix"`
}

// Patching contains patch application and transfer settings.
type Patching struct {
	CreateArchive bool `toml:"create_archive"`
	MaxRetries    int  `toml:"max_retries"`
	RetryDelayMS  int  `toml:"retry_delay_ms"`
	ListTimeout   int  `toml:"list_timeout"`
}

// PatchServer is one mirror serving a patch list and patch packages.
type PatchServer struct {
	Name     string `toml:"name"`
	PlistURL string `toml:"plist_url"`
	PatchURL string `toml:"patch_url"`
}

// Web contains the patch server list.
type Web struct {
	PreferredPatchServer string        `toml:"preferred_patch_server"`
	PatchServers         []PatchServer `toml:"patch_servers"`
}

// Messages overrides user-facing error strings. Empty values fall back to the
// underlying error text.
type Messages struct {
	ErrorDownload string `toml:"error_download"`
	ErrorExtract  string `toml:"error_extract"`
	ErrorGeneric  string `toml:"error_generic"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for grfpatch.
//
// Configuration sections by subsystem:
//   - Paths: game directory, temp downloads, logs, applied patch cache
//   - Client: archive name and the package prefix routed into it
//   - Patching: archive creation, retry policy, patch list timeout
//   - Web: patch servers
//   - Messages: error message overrides shown to players
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Client   Client   `toml:"client"`
	Patching Patching `toml:"patching"`
	Web      Web      `toml:"web"`
	Messages Messages `toml:"messages"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("grfpatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the temp and log directories. The game directory
// is left to the update session so a mistyped game_dir fails preflight.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArchivePath returns the absolute path of the target archive.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.Paths.GameDir, c.Client.DefaultArchive)
}

// PatchServer returns the preferred patch server, falling back to the first
// configured one.
func (c *Config) PatchServer() (PatchServer, bool) {
	if len(c.Web.PatchServers) == 0 {
		return PatchServer{}, false
	}
	if preferred := strings.TrimSpace(c.Web.PreferredPatchServer); preferred != "" {
		for _, server := range c.Web.PatchServers {
			if strings.EqualFold(server.Name, preferred) {
				return server, true
			}
		}
	}
	return c.Web.PatchServers[0], true
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath applies the ~ and absolute path rules used for config paths.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
