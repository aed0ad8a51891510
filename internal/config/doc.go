// Package config loads the walletd JSON configuration, fills in defaults and
// applies secret overrides from the environment so keys never have to live in
// the file.
package config
