package sync

import (
	"fmt"
	"time"

	"github.com/incidentbridge/internal/topdesk"
)

// EntryKind tags the validated activity-entry variants
type EntryKind int

const (
	EntryAttachment EntryKind = iota + 1
	EntryComment
	EntryEmail
)

func (k EntryKind) String() string {
	switch k {
	case EntryAttachment:
		return "attachment"
	case EntryComment:
		return "comment"
	case EntryEmail:
		return "email"
	default:
		return "unknown"
	}
}

// ActivityEntry is a validated progress-trail element. Exactly one variant
// applies; raw entries matching zero or several shapes are rejected at
// classification time instead of being guessed at by field probing.
type ActivityEntry struct {
	Kind   EntryKind
	Time   time.Time
	Author string // empty only for attachments, which may be authorless

	// Attachment
	FileName    string
	Size        int64
	DownloadURL string

	// Comment
	Text string

	// Email
	Subject string
}

// ClassifyEntry validates a raw progress-trail element into exactly one
// variant: a filename makes it an attachment, memo text a comment, a
// sender an email. Zero or multiple matches fail with ErrUnrecognizedEntry.
func ClassifyEntry(raw topdesk.ProgressEntry) (ActivityEntry, error) {
	var kinds []EntryKind
	if raw.FileName != "" {
		kinds = append(kinds, EntryAttachment)
	}
	if raw.MemoText != "" {
		kinds = append(kinds, EntryComment)
	}
	if raw.Sender != "" {
		kinds = append(kinds, EntryEmail)
	}
	if len(kinds) != 1 {
		return ActivityEntry{}, fmt.Errorf("%w: %d shapes match at %s",
			ErrUnrecognizedEntry, len(kinds), raw.EntryDate.Format(time.RFC3339))
	}

	entry := ActivityEntry{
		Kind: kinds[0],
		Time: raw.EntryDate.Time,
	}

	switch entry.Kind {
	case EntryAttachment:
		entry.FileName = raw.FileName
		entry.Size = raw.Size
		entry.DownloadURL = raw.DownloadURL
		// attachments might not always have an author
		entry.Author, _ = resolveAuthor(raw)
	case EntryComment:
		author, err := resolveAuthor(raw)
		if err != nil {
			return ActivityEntry{}, err
		}
		entry.Author = author
		entry.Text = raw.MemoText
	case EntryEmail:
		author, err := resolveAuthor(raw)
		if err != nil {
			return ActivityEntry{}, err
		}
		entry.Author = author
		entry.Subject = raw.Title
	}

	return entry, nil
}

// resolveAuthor checks operator, person, user and the raw sender string,
// in that priority order
func resolveAuthor(raw topdesk.ProgressEntry) (string, error) {
	switch {
	case raw.Operator != nil && raw.Operator.Name != "":
		return raw.Operator.Name, nil
	case raw.Person != nil && raw.Person.Name != "":
		return raw.Person.Name, nil
	case raw.User != nil && raw.User.Name != "":
		return raw.User.Name, nil
	case raw.Sender != "":
		// some really old emails only
		return raw.Sender, nil
	default:
		return "", fmt.Errorf("%w: entry at %s", ErrAuthorUnresolved, raw.EntryDate.Format(time.RFC3339))
	}
}
