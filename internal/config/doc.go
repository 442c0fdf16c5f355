// Package config handles configuration loading for gatedb.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Missing fields get defaults, then the result is validated.
//
// # Configuration File
//
// Locations (in order):
//
//  1. Path from GATEDB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/gatedb/config.yaml (or ~/.config/gatedb/config.yaml)
//
// When neither exists the CLI runs on Default().
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
//
// # Environment Variable Expansion
//
//	database:
//	  data_dir: "${GATEDB_DATA}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  name: "wallets"          # store name, derives <data_dir>/<name>.sqlite
//	  mode: "sqlite"           # sqlite, memory
//	  path: ""                 # explicit primary file, overrides the derived one
//	  data_dir: ""             # defaults to ~/.local/share/gatedb
//	  driver: "sqlite"         # sqlite (pure Go), sqlite3 (cgo)
//	  busy_timeout: "5s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//
// # Usage
//
//	cfg, err := config.Load("/etc/gatedb/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g, err := gate.Open(ctx, cfg.StorageMode(), schema, cfg.Database.Name,
//	    gate.Options{Storage: cfg.StorageOptions()})
package config
