// Package config loads, normalizes, and validates mdl configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MDL_API_BASE_URL and MDL_OUTPUT_DIR. The Config type centralizes every knob
// the CLI and download pipeline need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
