package sl

import (
	"log/slog"
)

// Err — атрибут для логирования ошибок.
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
