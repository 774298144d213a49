// Package config loads the engine's run-time tunables from the process
// environment: queue admission limits, handle TTLs, LLM budgets and
// timeouts, sandbox and git timeouts, forge/LLM credentials, and the
// Postgres/Redis connection strings. It follows the same
// "parse with defaults, fail fast on an invalid value" style as the
// teacher project's per-component Config structs, collapsed into one
// root config loaded once at process startup.
package config
