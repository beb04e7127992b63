package session

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the provider credential stored inside a session.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope,omitempty"`
}

// TokenSetFromOAuth2 copies the fields cftmail keeps from an oauth2 token.
func TokenSetFromOAuth2(tok *oauth2.Token) TokenSet {
	if tok == nil {
		return TokenSet{}
	}
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// OAuth2 converts the token set back into an oauth2 token.
func (t TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Empty reports whether the set carries no access token.
func (t TokenSet) Empty() bool {
	return t.AccessToken == ""
}

// Merge returns t updated with a refreshed token. Google omits the refresh
// token on refresh responses, so the previous one is kept in that case.
func (t TokenSet) Merge(refreshed *oauth2.Token) TokenSet {
	next := TokenSetFromOAuth2(refreshed)
	if next.RefreshToken == "" {
		next.RefreshToken = t.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = t.Scope
	}
	return next
}

// Session is the verified content of a session cookie.
type Session struct {
	UserID string
	Email  string
	Name   string
	Tokens TokenSet

	// IssuedAt and ExpiresAt are set by Codec.Issue.
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// WithTokens returns a copy of s carrying tokens. The copy must be passed to
// Codec.Issue to become a valid session.
func (s Session) WithTokens(tokens TokenSet) Session {
	s.Tokens = tokens
	s.IssuedAt = time.Time{}
	s.ExpiresAt = time.Time{}
	return s
}
