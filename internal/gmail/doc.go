// Package gmail composes outbound messages and hands them to the Gmail API.
//
// Compose produces an RFC 5322 message: a single HTML body, or a
// multipart/mixed message with the HTML part first and one base64 part per
// attachment. Header values are collapsed onto one line before they are
// written, so user input cannot introduce extra headers.
//
// Client sends the composed message on behalf of the authenticated user:
//
//	c, err := gmail.NewClient(ctx, tokenSource)
//	if err != nil {
//	    return err
//	}
//	raw := gmail.EncodeRaw(gmail.NewComposer().Compose(msg))
//	id, err := c.SendRaw(ctx, raw)
package gmail
