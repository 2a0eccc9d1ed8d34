// Package log provides structured logging shared by the vault, inventory,
// server, bridge and maintenance components.
//
// A single global zerolog.Logger is configured once via Init and read from
// everywhere else. Component loggers narrow that global logger with one or
// more context fields:
//
//	vaultLog := log.WithComponent("vault").With().Str("key_id", keyID).Logger()
//	log.WithContactID("bob").Info().Msg("budget exceeded")
//
// Level discipline: operation-level events log at Debug, validation
// rejections at Warn, backing-store outages at Error. Fatal exits the
// process and is reserved for startup failures (bad config, unreachable
// store on boot).
package log
