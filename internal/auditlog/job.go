// Package auditlog translates finished asynchronous job records into the
// stable audit-action taxonomy exposed to customers.
package auditlog

import (
	"encoding/json"
	"strings"

	"cloudgate.io/internal/identity"
)

// Execution states the workflow service reports for a job.
const (
	ExecutionSucceeded = "succeeded"
	ExecutionFailed    = "failed"
	ExecutionRunning   = "running"
	ExecutionQueued    = "queued"
)

// ChainResult is one sub-step result inside a job.
type ChainResult struct {
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	FinishedAt string `json:"finished_at"`
}

// RequestContext is the end-user request context attached to jobs submitted
// through the gateway. System-initiated jobs carry none.
type RequestContext struct {
	Caller     identity.Caller `json:"caller"`
	Parameters map[string]any  `json:"parameters,omitempty"`
}

// Payload holds the mutation fragments of an update job. Only presence
// matters for classification, so fields stay raw.
type Payload struct {
	SetCustomerMetadata    json.RawMessage `json:"set_customer_metadata,omitempty"`
	RemoveCustomerMetadata json.RawMessage `json:"remove_customer_metadata,omitempty"`
	SetTags                json.RawMessage `json:"set_tags,omitempty"`
	RemoveTags             json.RawMessage `json:"remove_tags,omitempty"`
}

// JobParams is the task description of a job record.
type JobParams struct {
	Task    string          `json:"task"`
	Subtask string          `json:"subtask,omitempty"`
	Payload Payload         `json:"payload"`
	Context *RequestContext `json:"context,omitempty"`
}

// Job is a workflow job record as delivered by the job service. Immutable
// once finished.
type Job struct {
	Name         string        `json:"name"`
	UUID         string        `json:"uuid,omitempty"`
	Execution    string        `json:"execution"`
	Params       JobParams     `json:"params"`
	ChainResults []ChainResult `json:"chain_results"`
}

// Finished reports whether the job has stopped executing. Running and queued
// jobs are excluded from audit output.
func (j Job) Finished() bool {
	return j.Execution != ExecutionRunning && j.Execution != ExecutionQueued
}

func rawPresent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}
