// Package logging provides structured logging utilities for cftmail.
//
// Everything logs through log/slog. This package keeps attribute names
// consistent and makes sure identities and credentials are masked before
// they reach a log line.
//
// # Usage Patterns
//
//	logger := logging.WithRequestID(slog.Default(), requestID)
//	logger.Info("message sent",
//	    logging.UserHash(email),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly, only their length
package logging
