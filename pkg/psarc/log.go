package psarc

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel configures the logging verbosity of the library.
// Valid levels: "debug", "info", "warn", "error", "disabled".
// Per-entry problems (size mismatches, undecryptable payloads, skipped paths)
// are logged at warn; "debug" adds one line per entry read or written.
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}
