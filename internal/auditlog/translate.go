package auditlog

import (
	"strings"

	"cloudgate.io/internal/identity"
)

// Entry is the normalized audit record returned to customers.
type Entry struct {
	Success    string          `json:"success"`
	Time       string          `json:"time"`
	Action     string          `json:"action"`
	Caller     identity.Caller `json:"caller"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// ActionUnknown is emitted when no classification rule matched. The entry is
// still surfaced so the customer does not lose history over one odd job.
const ActionUnknown = "unknown"

// jobClass is the job parsed once into the facts classification needs.
type jobClass struct {
	provision    bool
	task         string
	subtask      string
	snapshotKind string
	payload      payloadFlags
}

type payloadFlags struct {
	setMetadata    bool
	removeMetadata bool
	setTags        bool
	removeTags     bool
}

func classify(job Job) jobClass {
	c := jobClass{
		provision: strings.HasPrefix(job.Name, "provision"),
		task:      job.Params.Task,
		subtask:   job.Params.Subtask,
		payload: payloadFlags{
			setMetadata:    rawPresent(job.Params.Payload.SetCustomerMetadata),
			removeMetadata: rawPresent(job.Params.Payload.RemoveCustomerMetadata),
			setTags:        rawPresent(job.Params.Payload.SetTags),
			removeTags:     rawPresent(job.Params.Payload.RemoveTags),
		},
	}
	switch {
	case strings.HasPrefix(job.Name, "delete-snapshot"):
		c.snapshotKind = "delete_snapshot"
	case strings.HasPrefix(job.Name, "snapshot"):
		c.snapshotKind = "create_snapshot"
	case strings.HasPrefix(job.Name, "rollback"):
		c.snapshotKind = "rollback_snapshot"
	}
	return c
}

// Action names the job in the normalized taxonomy. First match wins, and the
// metadata-before-tags ordering for update payloads is documented behavior.
func Action(job Job) string {
	c := classify(job)

	if c.provision {
		return "provision"
	}
	if c.task != "update" && c.task != "snapshot" {
		if c.task == "" {
			return ActionUnknown
		}
		return c.task
	}
	if c.task == "snapshot" && c.snapshotKind != "" {
		return c.snapshotKind
	}
	if c.subtask == "rename" || c.subtask == "resize" {
		return c.subtask
	}

	p := c.payload
	switch {
	case p.setMetadata && p.removeMetadata:
		return "replace_metadata"
	case p.setTags && p.removeTags:
		return "replace_tags"
	case p.removeMetadata:
		return "remove_metadata"
	case p.setMetadata:
		return "set_metadata"
	case p.removeTags:
		return "remove_tags"
	case p.setTags:
		return "set_tags"
	}
	return ActionUnknown
}

// Translate maps one finished job to an audit entry. The entry's time is the
// finished_at of the job's last chain step; the upstream job service
// guarantees finished jobs carry at least one.
func Translate(job Job) Entry {
	entry := Entry{
		Action: Action(job),
	}
	if job.Execution == ExecutionSucceeded {
		entry.Success = "yes"
	} else {
		entry.Success = "no"
	}
	if n := len(job.ChainResults); n > 0 {
		entry.Time = job.ChainResults[n-1].FinishedAt
	}
	if ctx := job.Params.Context; ctx != nil {
		entry.Caller = ctx.Caller
		entry.Parameters = ctx.Parameters
	} else {
		entry.Caller = identity.Caller{Type: "operator"}
	}
	return entry
}

// TranslateAll filters out still-executing jobs and translates the rest,
// preserving the input order (oldest job first on the wire).
func TranslateAll(jobs []Job) []Entry {
	entries := make([]Entry, 0, len(jobs))
	for _, job := range jobs {
		if !job.Finished() {
			continue
		}
		entries = append(entries, Translate(job))
	}
	return entries
}
