// Package client talks to a cftmail server on behalf of the CLI.
//
// The client authenticates with the session cookie obtained from a browser
// sign-in. It implements tokenlife.Renewer and tokenlife.MetaStore so that a
// TokenLifecycleManager can keep the session's provider token fresh from the
// command line.
package client
