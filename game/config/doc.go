// Package config holds the server configuration for gamerelay.
//
// The config package handles:
//   - Built-in defaults for the usual deployment (game on :1337, assets on :8080)
//   - Loading overrides from a JSON file
//   - Validation of listener addresses, timings and mode names
//
// Configuration Format:
//
// Durations are written as Go duration strings. Fields missing from the file
// keep their defaults:
//
//	{
//	  "game_addr": ":1337",
//	  "asset_addr": ":8080",
//	  "network_tick": "50ms",
//	  "auth_mode": "issued",
//	  "token_source": "crypto"
//	}
//
// Usage:
//
//	cfg, err := config.Load("gamerelay.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Command-line flags are applied on top of the loaded value by the caller and
// the result is checked again with Validate.
package config
