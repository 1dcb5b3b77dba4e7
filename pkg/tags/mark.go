package tags

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// DefaultMarkerTag is the tag key deferred operations are recorded under.
const DefaultMarkerTag = "warden_status"

// Mark is a deferred action recorded in a marker tag's value. The wire form
// is "<action>@<RFC3339 timestamp>"; it is decoded once at filter-evaluation
// time, never re-parsed ad hoc.
type Mark struct {
	Action string
	DueAt  time.Time
}

// String serializes the mark into its tag value form.
func (m Mark) String() string {
	return fmt.Sprintf("%s@%s", m.Action, m.DueAt.UTC().Format(time.RFC3339))
}

// ParseMark decodes a marker tag value.
func ParseMark(value string) (Mark, error) {
	action, stamp, ok := strings.Cut(value, "@")
	if !ok || action == "" {
		return Mark{}, engine.NewValidationError(fmt.Sprintf("malformed marker tag value %q", value), nil)
	}
	dueAt, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return Mark{}, engine.NewValidationError(fmt.Sprintf("malformed marker timestamp %q", stamp), err)
	}
	return Mark{Action: action, DueAt: dueAt}, nil
}
