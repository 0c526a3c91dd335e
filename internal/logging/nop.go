package logging

import "github.com/arloliu/parti/types"

// NopLogger implements types.Logger by discarding all log messages.
//
// Useful for testing or when no logging output is desired.
type NopLogger struct{}

// Compile-time assertion that NopLogger implements Logger.
var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger.
//
// Returns:
//   - *NopLogger: A new no-op logger instance
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the debug message.
func (l *NopLogger) Debug(_ /* msg */ string, _ /* keysAndValues */ ...any) {
	// No-op
}

// Info discards the info message.
func (l *NopLogger) Info(_ /* msg */ string, _ /* keysAndValues */ ...any) {
	// No-op
}

// Warn discards the warning message.
func (l *NopLogger) Warn(_ /* msg */ string, _ /* keysAndValues */ ...any) {
	// No-op
}

// Error discards the error message.
func (l *NopLogger) Error(_ /* msg */ string, _ /* keysAndValues */ ...any) {
	// No-op
}

// Fatal discards the fatal message and calls os.Exit(1).
func (l *NopLogger) Fatal(_ /* msg */ string, _ /* keysAndValues */ ...any) {
	// No-op
}
