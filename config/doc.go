// Package config provides unified configuration loading for CaseFlow:
// defaults, YAML files, and environment variable overrides, plus the
// static task dependency table that drives plan expansion.
package config
