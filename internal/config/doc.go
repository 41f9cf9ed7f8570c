// Package config loads and validates hydrowatch configuration from a YAML
// file.
//
// Load reads the file, fills unset fields from the package defaults (global
// and per-source) and validates the result with struct tags plus a few
// cross-field checks. Watch re-runs Load whenever the file changes and hands
// each valid result to a callback; an invalid edit is logged and ignored.
//
// Secrets (API keys, tokens, passwords, webhook URLs) are never stored in the
// file itself: the config names an environment variable and the accessor
// methods (Key, Token, Password, URL) resolve it at call time.
package config
