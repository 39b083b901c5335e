// Package config loads, normalizes, and validates gas configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, overlays a .env file, and honours environment
// fallbacks for secrets such as GAS_OBJECT_STORE_SECRET_KEY and
// GAS_ACCOUNTS_DSN. The Config type centralizes every knob the stage workers,
// API and CLI need so queue names, bucket names and timing are discovered in
// one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
