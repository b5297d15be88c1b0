package sl

import (
	"log/slog"
)

// Err wraps an error into a slog attribute.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Module tags log records with the component that produced them.
func Module(name string) slog.Attr {
	return slog.Attr{
		Key:   "module",
		Value: slog.StringValue(name),
	}
}

// Secret logs a credential without exposing it: only the first characters are
// kept, the rest is masked.
func Secret(key, value string) slog.Attr {
	masked := value
	if len(masked) > 4 {
		masked = masked[:4] + "****"
	} else if masked != "" {
		masked = "****"
	}
	return slog.Attr{
		Key:   key,
		Value: slog.StringValue(masked),
	}
}
