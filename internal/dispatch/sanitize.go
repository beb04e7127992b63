package dispatch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Sidrek1992/CFT-App-sub001/internal/gmail"
)

// Field ceilings. Values above them are rejected, never truncated.
const (
	MaxEmailLength         = 320
	MaxCcLength            = 2000
	MaxCcRecipients        = 10
	MaxSubjectLength       = 300
	MaxBodyLength          = 100_000
	MaxAttachments         = 10
	MaxFilenameLength      = 255
	MaxMimeTypeLength      = 120
	MaxAttachmentBase64    = 15_000_000
	MaxOfficialIDLength    = 120

	// MaxRequestBody bounds the whole JSON request. One attachment at its
	// ceiling fits; several large ones together do not.
	MaxRequestBody = 20 << 20
)

// Validation codes.
const (
	CodeInvalidJSON              = "invalid_json"
	CodeToRequired               = "to_required"
	CodeToInvalid                = "to_invalid"
	CodeToTooLong                = "to_too_long"
	CodeCcInvalid                = "cc_invalid"
	CodeCcTooLong                = "cc_too_long"
	CodeCcLimitExceeded          = "cc_limit_exceeded"
	CodeSubjectTooLong           = "subject_too_long"
	CodeBodyTooLong              = "body_too_long"
	CodeAttachmentsLimitExceeded = "attachments_limit_exceeded"
	CodeAttachmentInvalid        = "attachment_invalid"
	CodeFilenameTooLong          = "filename_too_long"
	CodeMimeTypeTooLong          = "mime_type_too_long"
	CodeContentTooLong           = "content_too_long"
	CodeOfficialIDTooLong        = "official_id_too_long"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Request is a dispatch request that passed Sanitize. Every field is trimmed
// and within its ceiling.
type Request struct {
	To          string
	Cc          []string
	Subject     string
	Body        string
	Attachments []gmail.Attachment
	OfficialID  string
}

type rawRequest struct {
	To          any             `json:"to"`
	Cc          any             `json:"cc"`
	Subject     any             `json:"subject"`
	Body        any             `json:"body"`
	Attachments json.RawMessage `json:"attachments"`
	OfficialID  any             `json:"officialId"`
}

type rawAttachment struct {
	Filename      any `json:"filename"`
	MimeType      any `json:"mimeType"`
	ContentBase64 any `json:"contentBase64"`
}

// IsEmail reports whether v is a plausible single mailbox address.
func IsEmail(v string) bool {
	return utf8.RuneCountInString(v) <= MaxEmailLength && emailPattern.MatchString(v)
}

// Sanitize converts an untyped JSON payload into a Request. It is the only
// place request content is interpreted; a nil error means every invariant of
// Request holds. Failures are *Error values of KindValidation.
func Sanitize(raw []byte) (Request, error) {
	var in rawRequest
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return Request{}, ErrValidation(CodeInvalidJSON)
		}
	}

	var req Request
	var err error

	to := asString(in.To)
	switch {
	case to == "":
		return Request{}, ErrValidation(CodeToRequired)
	case utf8.RuneCountInString(to) > MaxEmailLength:
		return Request{}, ErrValidation(CodeToTooLong)
	case !IsEmail(to):
		return Request{}, ErrValidation(CodeToInvalid)
	}
	req.To = to

	if req.Cc, err = sanitizeCc(in.Cc); err != nil {
		return Request{}, err
	}

	if req.Subject, err = bounded(in.Subject, MaxSubjectLength, CodeSubjectTooLong); err != nil {
		return Request{}, err
	}
	if req.Body, err = bounded(in.Body, MaxBodyLength, CodeBodyTooLong); err != nil {
		return Request{}, err
	}

	if req.Attachments, err = sanitizeAttachments(in.Attachments); err != nil {
		return Request{}, err
	}

	if req.OfficialID, err = bounded(in.OfficialID, MaxOfficialIDLength, CodeOfficialIDTooLong); err != nil {
		return Request{}, err
	}

	return req, nil
}

// asString returns the trimmed string value of v, or "" for any other type.
func asString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func bounded(v any, max int, code string) (string, error) {
	s := asString(v)
	if utf8.RuneCountInString(s) > max {
		return "", ErrValidation(code)
	}
	return s, nil
}

// sanitizeCc accepts a comma-separated string or an array of strings.
func sanitizeCc(v any) ([]string, error) {
	var items []string
	switch cc := v.(type) {
	case nil:
		return nil, nil
	case string:
		if utf8.RuneCountInString(strings.TrimSpace(cc)) > MaxCcLength {
			return nil, ErrValidation(CodeCcTooLong)
		}
		items = strings.Split(cc, ",")
	case []any:
		for _, item := range cc {
			s, ok := item.(string)
			if !ok {
				return nil, ErrValidation(CodeCcInvalid)
			}
			items = append(items, s)
		}
	default:
		return nil, ErrValidation(CodeCcInvalid)
	}

	var (
		out   []string
		total int
	)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
		total += utf8.RuneCountInString(item) + 1
	}
	if total > MaxCcLength+1 {
		return nil, ErrValidation(CodeCcTooLong)
	}
	if len(out) > MaxCcRecipients {
		return nil, ErrValidation(CodeCcLimitExceeded)
	}
	for _, addr := range out {
		if !IsEmail(addr) {
			return nil, ErrValidation(CodeCcInvalid)
		}
	}
	return out, nil
}

func sanitizeAttachments(raw json.RawMessage) ([]gmail.Attachment, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, ErrValidation(CodeAttachmentInvalid)
	}
	if len(items) > MaxAttachments {
		return nil, ErrValidation(CodeAttachmentsLimitExceeded)
	}

	out := make([]gmail.Attachment, 0, len(items))
	for _, item := range items {
		var in rawAttachment
		if err := json.Unmarshal(item, &in); err != nil {
			return nil, ErrValidation(CodeAttachmentInvalid)
		}

		filename, err := bounded(in.Filename, MaxFilenameLength, CodeFilenameTooLong)
		if err != nil {
			return nil, err
		}
		if filename == "" {
			filename = gmail.DefaultAttachmentName
		}

		mimeType, err := bounded(in.MimeType, MaxMimeTypeLength, CodeMimeTypeTooLong)
		if err != nil {
			return nil, err
		}
		if mimeType == "" {
			mimeType = gmail.DefaultAttachmentType
		} else if _, _, err := mime.ParseMediaType(mimeType); err != nil {
			return nil, ErrValidation(CodeAttachmentInvalid)
		}

		content := asString(in.ContentBase64)
		if len(content) > MaxAttachmentBase64 {
			return nil, ErrValidation(CodeContentTooLong)
		}
		if !validBase64(content) {
			return nil, ErrValidation(CodeAttachmentInvalid)
		}

		out = append(out, gmail.Attachment{
			Filename:      filename,
			MimeType:      mimeType,
			ContentBase64: content,
		})
	}
	return out, nil
}

// validBase64 accepts standard base64, padded or not, with embedded line
// breaks.
func validBase64(s string) bool {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawStdEncoding.DecodeString(s)
	return err == nil
}
