package workflow

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/fileflow/pkg/models"
)

// TriggerMatcher handles matching file events against workflow trigger declarations.
type TriggerMatcher struct {
	logger *slog.Logger
}

// NewTriggerMatcher creates a new trigger matcher.
func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns every enabled workflow with at least one trigger accepting the event.
// A workflow appears once no matter how many of its triggers match.
func (tm *TriggerMatcher) MatchWorkflows(event models.FileEvent, workflows []*models.Workflow) []*models.Workflow {
	matched := make([]*models.Workflow, 0)

	for _, wf := range workflows {
		if wf == nil || !wf.Enabled {
			continue
		}

		for i := range wf.Triggers {
			if Matches(wf.Triggers[i], event) {
				tm.logger.Debug("Found matching workflow",
					"workflow_id", wf.ID,
					"trigger_index", i,
					"file_id", event.FileID)

				matched = append(matched, wf)

				break
			}
		}
	}

	tm.logger.Info("Completed trigger matching",
		"event_kind", event.Kind,
		"file_id", event.FileID,
		"workflows_count", len(workflows),
		"matches_found", len(matched))

	return matched
}

// Matches reports whether a single trigger accepts the event. Every filter is an
// independent predicate, so the order they are checked in never changes the result.
func Matches(trigger models.Trigger, event models.FileEvent) bool {
	if trigger.Type != event.Kind {
		return false
	}

	return matchExtension(trigger.FileExtensions, event.NormalizedExtension()) &&
		matchSize(trigger.MaxFileSize, event.Size) &&
		matchMimeType(trigger.MimeTypes, event.MimeType)
}

func matchExtension(allowed []string, ext string) bool {
	if len(allowed) == 0 {
		return true
	}

	return slices.ContainsFunc(allowed, func(candidate string) bool {
		return models.NormalizeExtension(candidate) == ext
	})
}

func matchSize(limit, size int64) bool {
	return limit <= 0 || size <= limit
}

func matchMimeType(allowed []string, mimeType string) bool {
	if len(allowed) == 0 {
		return true
	}

	mimeType = normalizeMimeType(mimeType)

	return slices.ContainsFunc(allowed, func(candidate string) bool {
		return normalizeMimeType(candidate) == mimeType
	})
}

func normalizeMimeType(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}

	return strings.ToLower(strings.TrimSpace(mimeType))
}
