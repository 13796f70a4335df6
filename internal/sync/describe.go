package sync

import (
	"strings"

	"github.com/incidentbridge/internal/topdesk"
)

// Summary builds the issue summary, incident number first so the Jira
// listing stays sortable by source ticket.
func Summary(inc *topdesk.Incident) string {
	return inc.Number + " " + inc.BriefDescription
}

// Description renders the incident fields in a fixed order. Absent
// optional fields are omitted entirely rather than rendered as
// placeholder lines.
func Description(inc *topdesk.Incident) string {
	var lines []string

	push := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	pushRef := func(label string, ref *topdesk.NamedRef) {
		if ref != nil {
			push(label, ref.Name)
		}
	}

	push("First/Second line", inc.Status)
	pushRef("Category", inc.Category)
	pushRef("Subcategory", inc.Subcategory)
	pushRef("Type", inc.CallType)
	pushRef("Object", inc.Object)
	lines = append(lines, "")
	pushRef("Impact", inc.Impact)
	pushRef("Urgency", inc.Urgency)
	pushRef("Priority", inc.Priority)
	pushRef("Duration", inc.Duration)
	if inc.TargetDate != nil && !inc.TargetDate.IsZero() {
		push("Target date", inc.TargetDate.Format("2006-01-02"))
	}
	lines = append(lines, "")
	push("Request", inc.Request)

	return strings.Join(lines, "\n")
}
