package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// attachmentSizeLimit is taken verbatim from the system this replaces,
// where the adjacent comment called it "5 MB". The literal value is ~5 GB;
// changing it would alter which attachments get mirrored, so it stays
// until the intended limit is confirmed.
const attachmentSizeLimit = 5_000_000_000

var breakNormalizer = strings.NewReplacer("<br/>", "\n", "<br />", "\n", "<br>", "\n")

// replayEntry applies one validated activity entry to the linked issue
func (e *Engine) replayEntry(ctx context.Context, entry ActivityEntry, issueKey string) error {
	switch entry.Kind {
	case EntryAttachment:
		return e.replayAttachment(ctx, entry, issueKey)
	case EntryComment:
		text := fmt.Sprintf("Topdesk comment: %s @ %s\n%s",
			entry.Author, entry.Time.Format(time.RFC3339), breakNormalizer.Replace(entry.Text))
		return e.sink.AddComment(ctx, issueKey, text)
	case EntryEmail:
		text := fmt.Sprintf("Topdesk email: %s @ %s\nSubject: %s",
			entry.Author, entry.Time.Format(time.RFC3339), entry.Subject)
		return e.sink.AddComment(ctx, issueKey, text)
	default:
		return fmt.Errorf("%w: kind %d", ErrUnrecognizedEntry, entry.Kind)
	}
}

// replayAttachment mirrors an attachment entry. Oversized files are
// described in a comment instead of uploaded; everything else is streamed
// from the source straight into the issue, and the download body is
// released no matter how the upload went.
func (e *Engine) replayAttachment(ctx context.Context, entry ActivityEntry, issueKey string) error {
	text := "Topdesk attachment @ " + entry.Time.Format(time.RFC3339)

	if entry.Size > attachmentSizeLimit {
		log.Warn().Str("issue", issueKey).Str("filename", entry.FileName).
			Int64("size", entry.Size).Msg("attachment exceeds size limit, posting comment only")
		text += "\nFilename: " + entry.FileName
		text += "\n(Not attached because it's too big for JIRA!)"
	} else {
		body, err := e.source.Raw(ctx, entry.DownloadURL)
		if err != nil {
			return err
		}

		uploadErr := e.sink.AddAttachment(ctx, issueKey, entry.FileName, body)
		body.Close()
		if uploadErr != nil {
			return uploadErr
		}

		text += "\nFilename: [^" + entry.FileName + "]"
	}

	return e.sink.AddComment(ctx, issueKey, text)
}
