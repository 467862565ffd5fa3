// Package logging is the logger abstraction handed to every server
// component. SlogLogger is the only implementation.
package logging

import "context"

// Logger takes a message plus alternating keys and values:
//
//	log.Warn(ctx, "verification code delivery failed", "device_id", id, "error", err)
//
// Secrets (passwords, refresh values, TOTP secrets) never go in the args.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying args on every record.
	With(args ...any) Logger
}
