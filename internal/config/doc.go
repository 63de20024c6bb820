// Package config loads the promptforged YAML configuration: server transport,
// logging, the named LLM provider set with per-provider credentials and default
// models, refinement template overrides, call limits, and breakdown parse
// tolerances. The loaded Config is an immutable snapshot handed explicitly to
// every component; a missing file falls back to defaults that target a local
// OpenAI-compatible inference server.
package config
