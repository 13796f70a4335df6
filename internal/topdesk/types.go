package topdesk

import (
	"fmt"
	"strings"
	"time"
)

// Time wraps time.Time to decode the timestamp formats the Topdesk API
// emits: RFC3339, RFC3339 with a colon-less zone offset, and date-only
// values (target dates).
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable topdesk timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// NamedRef is a reference to a named Topdesk entity (category, operator, ...)
type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Incident is one Topdesk incident as returned by the incidents listing.
// It is an immutable snapshot; each sync cycle re-fetches it.
type Incident struct {
	ID               string    `json:"id"`
	Number           string    `json:"number"`
	ExternalNumber   string    `json:"externalNumber"`
	BriefDescription string    `json:"briefDescription"`
	Request          string    `json:"request"`
	Status           string    `json:"status"`
	CallDate         Time      `json:"callDate"`
	ModificationDate Time      `json:"modificationDate"`
	TargetDate       *Time     `json:"targetDate"`
	Category         *NamedRef `json:"category"`
	Subcategory      *NamedRef `json:"subcategory"`
	CallType         *NamedRef `json:"callType"`
	Object           *NamedRef `json:"object"`
	Impact           *NamedRef `json:"impact"`
	Urgency          *NamedRef `json:"urgency"`
	Priority         *NamedRef `json:"priority"`
	Duration         *NamedRef `json:"duration"`
}

// ProgressEntry is one raw progress-trail element. Which fields are set
// decides whether it is an attachment, a comment or an email; that
// classification lives in the sync package.
type ProgressEntry struct {
	EntryDate   Time      `json:"entryDate"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"downloadUrl"`
	MemoText    string    `json:"memoText"`
	Sender      string    `json:"sender"`
	Title       string    `json:"title"`
	Operator    *NamedRef `json:"operator"`
	Person      *NamedRef `json:"person"`
	User        *NamedRef `json:"user"`
}

// Operator is the authenticated operator's profile
type Operator struct {
	ID          string `json:"id"`
	LoginName   string `json:"loginName"`
	DynamicName string `json:"dynamicName"`
}
