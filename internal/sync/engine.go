package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/incidentbridge/internal/jira"
	"github.com/incidentbridge/internal/ledger"
	"github.com/incidentbridge/internal/topdesk"
)

// IncidentSource is the read side: paginated incident listings, activity
// threads and raw attachment content.
type IncidentSource interface {
	ListIncidents(ctx context.Context) ([]topdesk.Incident, error)
	ListProgressTrail(ctx context.Context, id string) ([]topdesk.ProgressEntry, error)
	Raw(ctx context.Context, locator string) (io.ReadCloser, error)
}

// SinkGateway is the write side: the issue tracker the incidents are
// mirrored onto.
type SinkGateway interface {
	CreateIssue(ctx context.Context, projectKey, summary, description, externalRefField, externalRef string) (string, error)
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	AddComment(ctx context.Context, key, body string) error
	AddAttachment(ctx context.Context, key, filename string, r io.Reader) error
}

// Ledger is the durable cross-reference store keyed by incident number
type Ledger interface {
	Get(ctx context.Context, sourceRef string) (*ledger.Record, error)
	Create(ctx context.Context, sourceRef, sinkRef string, watermark time.Time) (*ledger.Record, error)
	AdvanceWatermark(ctx context.Context, sourceRef string, watermark time.Time) error
	CloseInSource(ctx context.Context, sourceRef string) error
	ListOpen(ctx context.Context) ([]*ledger.Record, error)
}

// Engine runs one reconciliation cycle at a time: it diffs the current
// incident snapshot against the ledger, replays new activity onto the
// sink in chronological order and advances per-incident watermarks.
// Everything is sequential; one incident is fully reconciled before the
// next is considered.
type Engine struct {
	source           IncidentSource
	sink             SinkGateway
	ledger           Ledger
	projectKey       string
	externalRefField string
}

// NewEngine wires an engine with explicit collaborator handles
func NewEngine(source IncidentSource, sink SinkGateway, l Ledger, projectKey, externalRefField string) *Engine {
	return &Engine{
		source:           source,
		sink:             sink,
		ledger:           l,
		projectKey:       projectKey,
		externalRefField: externalRefField,
	}
}

// RunCycle performs one full reconciliation pass. Any fatal error aborts
// the cycle; the watermark logic makes the next cycle pick up where this
// one left off.
func (e *Engine) RunCycle(ctx context.Context) error {
	logger := log.With().Str("cycle", uuid.NewString()).Logger()

	incidents, err := e.source.ListIncidents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list incidents: %w", err)
	}
	logger.Info().Int("incidents", len(incidents)).Msg("starting reconciliation cycle")

	for i := range incidents {
		if err := e.reconcileIncident(ctx, &logger, &incidents[i]); err != nil {
			return fmt.Errorf("failed to reconcile incident %s: %w", incidents[i].Number, err)
		}
	}

	if err := e.closeVanished(ctx, &logger, incidents); err != nil {
		return err
	}

	logger.Info().Msg("reconciliation cycle complete")
	return nil
}

func (e *Engine) reconcileIncident(ctx context.Context, logger *zerolog.Logger, inc *topdesk.Incident) error {
	rec, err := e.ledger.Get(ctx, inc.Number)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		// A miss is the expected state for a new incident
		rec, err = e.trackIncident(ctx, logger, inc)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if !inc.ModificationDate.After(rec.UpdatedAt) {
		// Already reflected in the sink; idempotent no-op
		return nil
	}

	raw, err := e.source.ListProgressTrail(ctx, inc.ID)
	if err != nil {
		return err
	}

	// The server hands the trail back in its own order (newest-first in
	// practice). Keep only entries past the watermark and sort ascending
	// explicitly instead of trusting wire order.
	pending := make([]topdesk.ProgressEntry, 0, len(raw))
	for _, entry := range raw {
		if entry.EntryDate.After(rec.UpdatedAt) {
			pending = append(pending, entry)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].EntryDate.Before(pending[j].EntryDate.Time)
	})

	for _, rawEntry := range pending {
		entry, err := ClassifyEntry(rawEntry)
		if err != nil {
			return err
		}
		if err := e.replayEntry(ctx, entry, rec.SinkRef); err != nil {
			return err
		}
	}

	if err := e.ledger.AdvanceWatermark(ctx, inc.Number, inc.ModificationDate.Time); err != nil {
		return err
	}

	logger.Info().
		Str("incident", inc.Number).
		Str("issue", rec.SinkRef).
		Int("entries", len(pending)).
		Time("watermark", inc.ModificationDate.Time).
		Msg("replayed incident activity")
	return nil
}

// trackIncident links a newly observed incident to a Jira issue: either
// the pre-existing issue its external number points at, or a freshly
// created one. The ledger record starts with the incident creation time
// as its watermark.
func (e *Engine) trackIncident(ctx context.Context, logger *zerolog.Logger, inc *topdesk.Incident) (*ledger.Record, error) {
	var issueKey string

	if inc.ExternalNumber != "" && strings.HasPrefix(inc.ExternalNumber, e.projectKey+"-") {
		// Incident already exists in Jira, bridge it with a comment
		issue, err := e.sink.GetIssue(ctx, inc.ExternalNumber)
		if err != nil {
			return nil, err
		}
		issueKey = issue.Key

		comment := fmt.Sprintf("Upgraded to Topdesk issue: %s\n\n%s", inc.Number, Description(inc))
		if err := e.sink.AddComment(ctx, issueKey, comment); err != nil {
			return nil, err
		}
		logger.Info().Str("incident", inc.Number).Str("issue", issueKey).Msg("linked incident to existing issue")
	} else {
		key, err := e.sink.CreateIssue(ctx, e.projectKey, Summary(inc), Description(inc), e.externalRefField, inc.Number)
		if err != nil {
			return nil, err
		}
		issueKey = key
		logger.Info().Str("incident", inc.Number).Str("issue", issueKey).Msg("created issue for new incident")
	}

	return e.ledger.Create(ctx, inc.Number, issueKey, inc.CallDate.Time)
}

// closeVanished sweeps open ledger records whose incident is missing from
// the full snapshot: one closure comment, then a one-way closed flag.
func (e *Engine) closeVanished(ctx context.Context, logger *zerolog.Logger, incidents []topdesk.Incident) error {
	seen := make(map[string]struct{}, len(incidents))
	for i := range incidents {
		seen[incidents[i].Number] = struct{}{}
	}

	open, err := e.ledger.ListOpen(ctx)
	if err != nil {
		return err
	}

	for _, rec := range open {
		if _, ok := seen[rec.SourceRef]; ok {
			continue
		}

		if err := e.sink.AddComment(ctx, rec.SinkRef, "Auto comment: no longer in Topdesk"); err != nil {
			return fmt.Errorf("failed to post closure comment on %s: %w", rec.SinkRef, err)
		}
		if err := e.ledger.CloseInSource(ctx, rec.SourceRef); err != nil {
			return err
		}
		logger.Info().Str("incident", rec.SourceRef).Str("issue", rec.SinkRef).Msg("incident vanished from source, closed")
	}

	return nil
}
