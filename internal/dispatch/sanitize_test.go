package dispatch

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func attachments(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"filename": "a.txt", "mimeType": "text/plain", "contentBase64": "QUJD"}
	}
	return out
}

func TestSanitize_Rejections(t *testing.T) {
	ccList := make([]string, MaxCcRecipients+1)
	for i := range ccList {
		ccList[i] = "cc@example.cl"
	}

	tests := []struct {
		name string
		in   []byte
		code string
	}{
		{name: "not json", in: []byte("{"), code: CodeInvalidJSON},
		{name: "empty body", in: nil, code: CodeToRequired},
		{name: "missing to", in: payload(t, map[string]any{"subject": "x"}), code: CodeToRequired},
		{name: "blank to", in: payload(t, map[string]any{"to": "   "}), code: CodeToRequired},
		{name: "non-string to", in: payload(t, map[string]any{"to": 42}), code: CodeToRequired},
		{name: "invalid to", in: payload(t, map[string]any{"to": "not-an-email"}), code: CodeToInvalid},
		{name: "to with space", in: payload(t, map[string]any{"to": "a b@example.cl"}), code: CodeToInvalid},
		{name: "to too long", in: payload(t, map[string]any{"to": strings.Repeat("a", 320) + "@example.cl"}), code: CodeToTooLong},
		{name: "cc string too long", in: payload(t, map[string]any{"to": "a@example.cl", "cc": strings.Repeat("a", MaxCcLength+1)}), code: CodeCcTooLong},
		{name: "cc over limit", in: payload(t, map[string]any{"to": "a@example.cl", "cc": strings.Join(ccList, ",")}), code: CodeCcLimitExceeded},
		{name: "cc array over limit", in: payload(t, map[string]any{"to": "a@example.cl", "cc": ccList}), code: CodeCcLimitExceeded},
		{name: "cc invalid entry", in: payload(t, map[string]any{"to": "a@example.cl", "cc": "b@example.cl, nope"}), code: CodeCcInvalid},
		{name: "cc array non-string", in: payload(t, map[string]any{"to": "a@example.cl", "cc": []any{1}}), code: CodeCcInvalid},
		{name: "cc object", in: payload(t, map[string]any{"to": "a@example.cl", "cc": map[string]any{"a": 1}}), code: CodeCcInvalid},
		{name: "subject too long", in: payload(t, map[string]any{"to": "a@example.cl", "subject": strings.Repeat("s", MaxSubjectLength+1)}), code: CodeSubjectTooLong},
		{name: "body too long", in: payload(t, map[string]any{"to": "a@example.cl", "body": strings.Repeat("b", MaxBodyLength+1)}), code: CodeBodyTooLong},
		{name: "too many attachments", in: payload(t, map[string]any{"to": "a@example.cl", "attachments": attachments(MaxAttachments + 1)}), code: CodeAttachmentsLimitExceeded},
		{name: "attachments not array", in: payload(t, map[string]any{"to": "a@example.cl", "attachments": "x"}), code: CodeAttachmentInvalid},
		{name: "attachment not object", in: payload(t, map[string]any{"to": "a@example.cl", "attachments": []any{"x"}}), code: CodeAttachmentInvalid},
		{
			name: "attachment bad base64",
			in:   payload(t, map[string]any{"to": "a@example.cl", "attachments": []any{map[string]any{"contentBase64": "not base64!"}}}),
			code: CodeAttachmentInvalid,
		},
		{
			name: "attachment bad mime type",
			in:   payload(t, map[string]any{"to": "a@example.cl", "attachments": []any{map[string]any{"mimeType": "text/plain; =", "contentBase64": "QUJD"}}}),
			code: CodeAttachmentInvalid,
		},
		{
			name: "attachment filename too long",
			in:   payload(t, map[string]any{"to": "a@example.cl", "attachments": []any{map[string]any{"filename": strings.Repeat("f", MaxFilenameLength+1)}}}),
			code: CodeFilenameTooLong,
		},
		{
			name: "attachment mime type too long",
			in:   payload(t, map[string]any{"to": "a@example.cl", "attachments": []any{map[string]any{"mimeType": "text/" + strings.Repeat("x", MaxMimeTypeLength)}}}),
			code: CodeMimeTypeTooLong,
		},
		{name: "official id too long", in: payload(t, map[string]any{"to": "a@example.cl", "officialId": strings.Repeat("o", MaxOfficialIDLength+1)}), code: CodeOfficialIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.in)
			require.Error(t, err)

			de, ok := AsError(err)
			require.True(t, ok, "expected *Error, got %T", err)
			assert.Equal(t, KindValidation, de.Kind)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, 400, de.Status())
		})
	}
}

func TestSanitize_Accepts(t *testing.T) {
	req, err := Sanitize(payload(t, map[string]any{
		"to":         "  ana@example.cl ",
		"cc":         "b@example.cl, , c@example.cl",
		"subject":    "  Citación  ",
		"body":       "Hola\nMundo",
		"officialId": " off-1 ",
		"attachments": []any{
			map[string]any{"filename": "", "mimeType": "", "contentBase64": "QUJD\nREVG"},
			map[string]any{"filename": "acta.pdf", "mimeType": "application/pdf", "contentBase64": "QUJDRA"},
		},
	}))
	require.NoError(t, err)

	assert.Equal(t, "ana@example.cl", req.To)
	assert.Equal(t, []string{"b@example.cl", "c@example.cl"}, req.Cc)
	assert.Equal(t, "Citación", req.Subject)
	assert.Equal(t, "Hola\nMundo", req.Body)
	assert.Equal(t, "off-1", req.OfficialID)
	require.Len(t, req.Attachments, 2)
	assert.Equal(t, "attachment", req.Attachments[0].Filename)
	assert.Equal(t, "application/octet-stream", req.Attachments[0].MimeType)
	assert.Equal(t, "acta.pdf", req.Attachments[1].Filename)
	assert.Equal(t, "application/pdf", req.Attachments[1].MimeType)
}

func TestSanitize_CcArray(t *testing.T) {
	req, err := Sanitize(payload(t, map[string]any{
		"to": "ana@example.cl",
		"cc": []string{" b@example.cl", "", "c@example.cl "},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.cl", "c@example.cl"}, req.Cc)
}

func TestSanitize_Boundaries(t *testing.T) {
	// Exactly at every ceiling is accepted.
	_, err := Sanitize(payload(t, map[string]any{
		"to":          "ana@example.cl",
		"subject":     strings.Repeat("s", MaxSubjectLength),
		"body":        strings.Repeat("b", MaxBodyLength),
		"officialId":  strings.Repeat("o", MaxOfficialIDLength),
		"attachments": attachments(MaxAttachments),
	}))
	assert.NoError(t, err)

	// Ceilings count characters, not bytes.
	_, err = Sanitize(payload(t, map[string]any{
		"to":      "ana@example.cl",
		"subject": strings.Repeat("ñ", MaxSubjectLength),
	}))
	assert.NoError(t, err)
}

func TestIsEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a@b.cl", true},
		{"first.last+tag@sub.example.org", true},
		{"a@b", false},
		{"@b.cl", false},
		{"a@@b.cl", false},
		{"a b@c.cl", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEmail(tt.in), "input %q", tt.in)
	}
}
