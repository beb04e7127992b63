package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sidrek1992/CFT-App-sub001/internal/client"
	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
)

func newSendCmd() *cobra.Command {
	var (
		to         string
		cc         []string
		subject    string
		body       string
		bodyFile   string
		attach     []string
		officialID string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message through the server",
		Long: `Send one message from the signed-in user's Gmail account.

The body is plain text; the server wraps it in HTML. Use --body-file - to read
it from stdin. Pass --official-id to record the message in the sent history.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			cfg, err := loadClientConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if bodyFile != "" {
				text, err := readBody(bodyFile)
				if err != nil {
					return err
				}
				body = text
			}

			msg := client.Message{
				To:         to,
				Cc:         cc,
				Subject:    subject,
				Body:       body,
				OfficialID: officialID,
			}
			for _, path := range attach {
				a, err := loadAttachment(path)
				if err != nil {
					return err
				}
				msg.Attachments = append(msg.Attachments, a)
			}

			env, err := openClient(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if !env.signedIn() {
				return fmt.Errorf("not signed in: run \"cftmail token watch --session <cookie>\" first or sign in at %s", env.client.ConsentURL(""))
			}

			res, err := env.client.Send(ctx, msg)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.RequestID != "" {
					return fmt.Errorf("%w (request %s)", err, apiErr.RequestID)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.ID)
			return nil
		},
	}

	addClientFlags(cmd.Flags())
	cmd.Flags().StringVar(&to, "to", "", "Recipient address (required)")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "Cc addresses, comma-separated or repeated")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject line")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the body from a file, or - for stdin")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "Files to attach, comma-separated or repeated")
	cmd.Flags().StringVar(&officialID, "official-id", "", "Official the message is addressed to")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func readBody(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = readLimited(os.Stdin, dispatch.MaxBodyLength*4)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}

// loadAttachment reads a file and encodes it for the dispatch request. The
// MIME type is guessed from the extension.
func loadAttachment(path string) (client.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > dispatch.MaxAttachmentBase64 {
		return client.Attachment{}, fmt.Errorf("attachment %s is too large", filepath.Base(path))
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return client.Attachment{
		Filename:      filepath.Base(path),
		MimeType:      mimeType,
		ContentBase64: encoded,
	}, nil
}

// readLimited reads at most limit bytes from r and fails if there is more.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("input exceeds %d bytes", limit)
	}
	return data, nil
}
