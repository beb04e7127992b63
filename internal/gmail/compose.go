package gmail

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"
)

const (
	// base64LineLength is the line width of base64 attachment bodies (RFC 2045).
	base64LineLength = 76

	// DefaultAttachmentName is used when an attachment has no filename.
	DefaultAttachmentName = "attachment"

	// DefaultAttachmentType is used when an attachment has no MIME type.
	DefaultAttachmentType = "application/octet-stream"
)

// Attachment is a file to attach, already base64 encoded by the caller.
type Attachment struct {
	Filename      string
	MimeType      string
	ContentBase64 string
}

// Message is the structured input of Compose.
type Message struct {
	To          string
	Cc          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Composer turns a Message into RFC 5322 bytes.
type Composer struct {
	now func() time.Time
}

// NewComposer returns a Composer using the wall clock for boundaries.
func NewComposer() *Composer {
	return &Composer{now: time.Now}
}

// NewComposerWithClock returns a Composer deriving boundaries from now.
func NewComposerWithClock(now func() time.Time) *Composer {
	return &Composer{now: now}
}

// Boundary returns the multipart boundary Compose would use right now.
func (c *Composer) Boundary() string {
	return fmt.Sprintf("----=_Part_%d", c.now().UnixNano())
}

// Compose builds the wire message. Header values never contain CR or LF, so
// no input can add a header line.
func (c *Composer) Compose(msg Message) []byte {
	var b strings.Builder

	b.WriteString("To: " + SanitizeHeader(msg.To) + "\r\n")
	if cc := joinAddresses(msg.Cc); cc != "" {
		b.WriteString("Cc: " + cc + "\r\n")
	}
	b.WriteString("Subject: " + encodeRFC2047(SanitizeHeader(msg.Subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.HTML)
		return []byte(b.String())
	}

	boundary := c.Boundary()
	b.WriteString("Content-Type: multipart/mixed; boundary=\"" + boundary + "\"\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML + "\r\n")

	for _, a := range msg.Attachments {
		name := attachmentName(a.Filename)
		mimeType := SanitizeHeader(a.MimeType)
		if mimeType == "" {
			mimeType = DefaultAttachmentType
		}

		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: " + mimeType + "; name=\"" + name + "\"\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + name + "\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString("\r\n")
		for _, line := range chunk(stripWhitespace(a.ContentBase64), base64LineLength) {
			b.WriteString(line + "\r\n")
		}
	}

	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// EncodeRaw encodes a composed message the way messages.send expects its raw
// field: base64url without padding.
func EncodeRaw(message []byte) string {
	return base64.RawURLEncoding.EncodeToString(message)
}

// RenderHTMLBody wraps a plain body as the HTML document sent to recipients.
// Line breaks become <br/>; the body itself is trusted HTML from the sender.
func RenderHTMLBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return `<html><body style="font-family: Arial, sans-serif;">` +
		strings.ReplaceAll(body, "\n", "<br/>") +
		`</body></html>`
}

// SanitizeHeader collapses every run of CR/LF into a single space and trims
// the result.
func SanitizeHeader(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	inBreak := false
	for _, r := range v {
		if r == '\r' || r == '\n' {
			if !inBreak {
				b.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func joinAddresses(addrs []string) string {
	clean := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = SanitizeHeader(a); a != "" {
			clean = append(clean, a)
		}
	}
	return strings.Join(clean, ", ")
}

// attachmentName returns a filename safe to place inside a quoted parameter.
func attachmentName(filename string) string {
	name := SanitizeFilename(SanitizeHeader(filename))
	name = strings.NewReplacer(`"`, "", `\`, "").Replace(name)
	if name == "" {
		return DefaultAttachmentName
	}
	return encodeRFC2047(name)
}

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047.
// ASCII-only values are returned unchanged.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// SanitizeFilename sanitizes a filename to prevent path traversal attacks.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	return filename
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func chunk(s string, size int) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
