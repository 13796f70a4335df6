package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/incidentbridge/internal/jira"
	"github.com/incidentbridge/internal/ledger"
	"github.com/incidentbridge/internal/topdesk"
)

// --- source fake ---

type fakeSource struct {
	incidents  []topdesk.Incident
	trails     map[string][]topdesk.ProgressEntry
	raw        map[string][]byte
	listCalls  int
	trailCalls int
	rawBodies  []*trackedBody
	listErr    error
}

type trackedBody struct {
	*bytes.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func (s *fakeSource) ListIncidents(ctx context.Context) ([]topdesk.Incident, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.incidents, nil
}

func (s *fakeSource) ListProgressTrail(ctx context.Context, id string) ([]topdesk.ProgressEntry, error) {
	s.trailCalls++
	return s.trails[id], nil
}

func (s *fakeSource) Raw(ctx context.Context, locator string) (io.ReadCloser, error) {
	data, ok := s.raw[locator]
	if !ok {
		return nil, fmt.Errorf("no raw content for %s", locator)
	}
	body := &trackedBody{Reader: bytes.NewReader(data)}
	s.rawBodies = append(s.rawBodies, body)
	return body, nil
}

// --- sink fake ---

type attachedFile struct {
	filename string
	content  string
}

type fakeSink struct {
	nextID      int
	existing    map[string]*jira.Issue
	comments    map[string][]string
	attachments map[string][]attachedFile
	writes      int
	uploadErr   error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		existing:    map[string]*jira.Issue{},
		comments:    map[string][]string{},
		attachments: map[string][]attachedFile{},
	}
}

func (s *fakeSink) CreateIssue(ctx context.Context, projectKey, summary, description, externalRefField, externalRef string) (string, error) {
	s.writes++
	s.nextID++
	key := fmt.Sprintf("%s-%d", projectKey, s.nextID)
	issue := &jira.Issue{Key: key}
	issue.Fields.Summary = summary
	s.existing[key] = issue
	return key, nil
}

func (s *fakeSink) GetIssue(ctx context.Context, key string) (*jira.Issue, error) {
	issue, ok := s.existing[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jira.ErrIssueNotFound, key)
	}
	return issue, nil
}

func (s *fakeSink) AddComment(ctx context.Context, key, body string) error {
	s.writes++
	s.comments[key] = append(s.comments[key], body)
	return nil
}

func (s *fakeSink) AddAttachment(ctx context.Context, key, filename string, r io.Reader) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.writes++
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.attachments[key] = append(s.attachments[key], attachedFile{filename: filename, content: string(data)})
	return nil
}

// --- ledger fake ---

type fakeLedger struct {
	records   map[string]*ledger.Record
	mutations int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]*ledger.Record{}}
}

func (l *fakeLedger) Get(ctx context.Context, sourceRef string) (*ledger.Record, error) {
	rec, ok := l.records[sourceRef]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	snapshot := *rec
	return &snapshot, nil
}

func (l *fakeLedger) Create(ctx context.Context, sourceRef, sinkRef string, watermark time.Time) (*ledger.Record, error) {
	if _, ok := l.records[sourceRef]; ok {
		return nil, fmt.Errorf("duplicate source reference %s", sourceRef)
	}
	for _, rec := range l.records {
		if rec.SinkRef == sinkRef {
			return nil, fmt.Errorf("duplicate sink reference %s", sinkRef)
		}
	}
	l.mutations++
	rec := &ledger.Record{
		ID:        int64(len(l.records) + 1),
		SourceRef: sourceRef,
		SinkRef:   sinkRef,
		CreatedAt: watermark,
		UpdatedAt: watermark,
	}
	l.records[sourceRef] = rec
	snapshot := *rec
	return &snapshot, nil
}

func (l *fakeLedger) AdvanceWatermark(ctx context.Context, sourceRef string, watermark time.Time) error {
	rec, ok := l.records[sourceRef]
	if !ok {
		return ledger.ErrNotFound
	}
	if watermark.After(rec.UpdatedAt) {
		l.mutations++
		rec.UpdatedAt = watermark
	}
	return nil
}

func (l *fakeLedger) CloseInSource(ctx context.Context, sourceRef string) error {
	rec, ok := l.records[sourceRef]
	if !ok {
		return ledger.ErrNotFound
	}
	l.mutations++
	rec.ClosedInSource = true
	return nil
}

func (l *fakeLedger) ListOpen(ctx context.Context) ([]*ledger.Record, error) {
	var open []*ledger.Record
	for _, rec := range l.records {
		if !rec.ClosedInSource {
			snapshot := *rec
			open = append(open, &snapshot)
		}
	}
	return open, nil
}

// --- helpers ---

func tdTime(t time.Time) topdesk.Time {
	return topdesk.Time{Time: t}
}
