// Package config loads the JSON configuration of the nexus daemon and fills
// in defaults for chain endpoints, wallet source, registry file, notification
// fan-out, attempt storage, logging and metrics.
package config
