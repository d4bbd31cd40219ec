package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validatePatching(); err != nil {
		return err
	}
	if err := c.validateWeb(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateClient() error {
	if filepath.Base(c.Client.DefaultArchive) != c.Client.DefaultArchive {
		return fmt.Errorf("client.default_archive must be a file name, got %q", c.Client.DefaultArchive)
	}
	if !strings.EqualFold(filepath.Ext(c.Client.DefaultArchive), ".grf") {
		return fmt.Errorf("client.default_archive must end in .grf, got %q", c.Client.DefaultArchive)
	}
	return nil
}

func (c *Config) validatePatching() error {
	if c.Patching.MaxRetries > 20 {
		return errors.New("patching.max_retries must be at most 20")
	}
	if c.Patching.ListTimeout > 600 {
		return errors.New("patching.list_timeout must be at most 600 seconds")
	}
	return nil
}

func (c *Config) validateWeb() error {
	seen := make(map[string]struct{}, len(c.Web.PatchServers))
	for i, server := range c.Web.PatchServers {
		label := server.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		key := strings.ToLower(server.Name)
		if _, dup := seen[key]; dup && key != "" {
			return fmt.Errorf("web.patch_servers: duplicate name %q", server.Name)
		}
		seen[key] = struct{}{}
		if err := validateHTTPURL(server.PlistURL); err != nil {
			return fmt.Errorf("web.patch_servers[%s].plist_url: %w", label, err)
		}
		if err := validateHTTPURL(server.PatchURL); err != nil {
			return fmt.Errorf("web.patch_servers[%s].patch_url: %w", label, err)
		}
	}
	if c.Web.PreferredPatchServer != "" {
		found := false
		for _, server := range c.Web.PatchServers {
			if strings.EqualFold(server.Name, c.Web.PreferredPatchServer) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("web.preferred_patch_server %q does not match any patch server", c.Web.PreferredPatchServer)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("must be set")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
