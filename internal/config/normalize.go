package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeClient()
	c.normalizePatching()
	c.normalizeWeb()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.GameDir) == "" || c.Paths.GameDir == defaultGameDir {
		if value, ok := os.LookupEnv("GRFPATCH_GAME_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.GameDir = value
		}
	}
	if strings.TrimSpace(c.Paths.GameDir) == "" {
		c.Paths.GameDir = defaultGameDir
	}

	var err error
	if c.Paths.GameDir, err = expandPath(c.Paths.GameDir); err != nil {
		return fmt.Errorf("paths.game_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = filepath.Join(os.TempDir(), defaultTempSubdir)
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CachePath) == "" {
		c.Paths.CachePath = filepath.Join(c.Paths.GameDir, defaultCacheFile)
	}
	if c.Paths.CachePath, err = expandPath(c.Paths.CachePath); err != nil {
		return fmt.Errorf("paths.cache_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeClient() {
	c.Client.DefaultArchive = strings.TrimSpace(c.Client.DefaultArchive)
	if c.Client.DefaultArchive == "" {
		c.Client.DefaultArchive = defaultArchive
	}
	c.Client.ArchivePrefix = strings.Trim(strings.TrimSpace(c.Client.ArchivePrefix), `/\`)
	if c.Client.ArchivePrefix == "" {
		c.Client.ArchivePrefix = defaultArchivePrefix
	}
}

func (c *Config) normalizePatching() {
	if c.Patching.MaxRetries <= 0 {
		c.Patching.MaxRetries = defaultMaxRetries
	}
	if c.Patching.RetryDelayMS <= 0 {
		c.Patching.RetryDelayMS = defaultRetryDelayMS
	}
	if c.Patching.ListTimeout <= 0 {
		c.Patching.ListTimeout = defaultListTimeout
	}
}

func (c *Config) normalizeWeb() {
	c.Web.PreferredPatchServer = strings.TrimSpace(c.Web.PreferredPatchServer)
	for i := range c.Web.PatchServers {
		server := &c.Web.PatchServers[i]
		server.Name = strings.TrimSpace(server.Name)
		server.PlistURL = strings.TrimSpace(server.PlistURL)
		server.PatchURL = strings.TrimSpace(server.PatchURL)
		if server.PatchURL != "" && !strings.HasSuffix(server.PatchURL, "/") {
			server.PatchURL += "/"
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
