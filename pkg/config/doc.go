// Package config loads application configuration from LANTERN_*
// environment variables and validates it before the server starts.
package config
