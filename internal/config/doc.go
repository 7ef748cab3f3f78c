// Package config loads command configuration from .env files, GRAPHMAT_*
// environment variables and an optional config file.
package config
