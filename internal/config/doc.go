// Package config loads, normalizes, and validates grfpatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the GRFPATCH_GAME_DIR environment
// fallback. The Config type centralizes every knob the patcher and CLI need:
// the game directory and archive name, patch servers, retry policy and the
// error messages shown to players.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
