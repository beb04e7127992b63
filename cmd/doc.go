// Package cmd implements the command-line interface for cftmail.
//
// This package provides the following commands:
//   - serve: Run the HTTP API (sign-in with Google, dispatch, sent history)
//   - migrate: Apply or roll back the Postgres schema
//   - token: Keep the provider token of a CLI session fresh, or inspect it
//   - send: Send one message through a running server
//   - version: Display version information
package cmd
