package google

import (
	gmail "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// DefaultOAuthScopes are the scopes requested at consent time: identity for
// the session, and permission to send mail as the user. Nothing else.
var DefaultOAuthScopes = []string{
	oauth2api.OpenIDScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
	gmail.GmailSendScope,
}
