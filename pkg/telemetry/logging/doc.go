// Package logging builds the structured slog logger used across Gatekeeper.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Request-scoped fields travel in the context and are added by the handler:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithClientID(ctx, "acct-42")
//	logger.InfoContext(ctx, "admitted") // includes request_id and client_id
//
// # Redaction
//
// With RedactClientIDs set, client_id values are shortened to their first
// four characters and bearer tokens or secret=value pairs in string fields
// are masked.
package logging
