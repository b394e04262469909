// Package config loads, normalizes, and validates shadowcam configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SHADOWCAM_API_URL. The Config type centralizes every knob the hub, the
// control API, and the CLI need: the inference endpoint, camera constraints,
// live polling cadence, and the optional verdict history store.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
