// Package logging provides the tracker's structured logger.
//
// Logger wraps log/slog with JSON or text output, level filtering and two
// default fields, service and version. Components get a child logger with
// With("component", name); WithDevice adds the device_id field once the
// identity is known.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Values of attributes named password, passphrase, psk or token are
// replaced with [REDACTED] before they are written.
package logging
