// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workflow defines the processing state machines that govern
// how a stored message and its attachments advance through the OCR,
// summarisation, and issue-submission stages.
//
// Each machine is an explicit adjacency table over named states. A
// transition not present in the table is rejected with a typed error;
// the only way around validation is the distinct ForceTransition path
// used for operator-driven reprocessing.
package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a workflow state. Values are lowercase snake_case strings
// and are persisted verbatim as the status column of message and
// attachment rows.
type Status string

// Message-level states.
const (
	StatusFetched           Status = "fetched"
	StatusOCRProcessing     Status = "ocr_processing"
	StatusOCRSuccess        Status = "ocr_success"
	StatusOCRFailed         Status = "ocr_failed"
	StatusSummaryProcessing Status = "summary_processing"
	StatusSummarySuccess    Status = "summary_success"
	StatusSummaryFailed     Status = "summary_failed"
	StatusJiraProcessing    Status = "jira_processing"
	StatusJiraSuccess       Status = "jira_success"
	StatusJiraFailed        Status = "jira_failed"
)

// Attachment-level states.
const (
	StatusAttachmentPending       Status = "pending"
	StatusAttachmentOCRProcessing Status = "ocr_processing"
	StatusAttachmentOCRSuccess    Status = "ocr_success"
	StatusAttachmentOCRFailed     Status = "ocr_failed"
)

// Machine is a directed graph of allowed transitions. The zero set of
// outgoing edges marks a terminal state.
type Machine struct {
	name  string
	edges map[Status][]Status
}

// MessageMachine governs message rows: OCR, then summarisation, then
// issue submission, with an explicit retry edge out of each failure
// state. jira_success is terminal.
var MessageMachine = &Machine{
	name: "message",
	edges: map[Status][]Status{
		StatusFetched:           {StatusOCRProcessing},
		StatusOCRProcessing:     {StatusOCRSuccess, StatusOCRFailed},
		StatusOCRSuccess:        {StatusSummaryProcessing},
		StatusOCRFailed:         {StatusOCRProcessing},
		StatusSummaryProcessing: {StatusSummarySuccess, StatusSummaryFailed},
		StatusSummarySuccess:    {StatusJiraProcessing},
		StatusSummaryFailed:     {StatusSummaryProcessing},
		StatusJiraProcessing:    {StatusJiraSuccess, StatusJiraFailed},
		StatusJiraSuccess:       {},
		StatusJiraFailed:        {StatusJiraProcessing},
	},
}

// AttachmentMachine governs attachment rows through the OCR stage,
// mirroring the message machine's retry-edge pattern. ocr_success is
// terminal.
var AttachmentMachine = &Machine{
	name: "attachment",
	edges: map[Status][]Status{
		StatusAttachmentPending:       {StatusAttachmentOCRProcessing},
		StatusAttachmentOCRProcessing: {StatusAttachmentOCRSuccess, StatusAttachmentOCRFailed},
		StatusAttachmentOCRSuccess:    {},
		StatusAttachmentOCRFailed:     {StatusAttachmentOCRProcessing},
	},
}

// InvalidTransitionError reports a rejected transition, naming the
// current state, the requested state, and the valid next states.
type InvalidTransitionError struct {
	Machine string
	From    Status
	To      Status
	Valid   []Status
}

func (e *InvalidTransitionError) Error() string {
	valid := make([]string, len(e.Valid))
	for i, s := range e.Valid {
		valid[i] = string(s)
	}
	sort.Strings(valid)
	return fmt.Sprintf("%s workflow: invalid transition %s -> %s (valid next states: [%s])",
		e.Machine, e.From, e.To, strings.Join(valid, ", "))
}

// Name returns the machine's identifier ("message" or "attachment").
func (m *Machine) Name() string { return m.name }

// Known reports whether the status belongs to this machine.
func (m *Machine) Known(s Status) bool {
	_, ok := m.edges[s]
	return ok
}

// NextStates returns the allowed next states from the given state.
// Terminal states return an empty slice; unknown states return nil.
func (m *Machine) NextStates(from Status) []Status {
	edges, ok := m.edges[from]
	if !ok {
		return nil
	}
	out := make([]Status, len(edges))
	copy(out, edges)
	return out
}

// Terminal reports whether the state has no outgoing edges.
func (m *Machine) Terminal(s Status) bool {
	edges, ok := m.edges[s]
	return ok && len(edges) == 0
}

// CanTransition reports whether from -> to is an allowed edge.
func (m *Machine) CanTransition(from, to Status) bool {
	for _, next := range m.edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate checks a transition request, returning a typed error when
// the edge is not in the adjacency table.
func (m *Machine) Validate(from, to Status) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{
		Machine: m.name,
		From:    from,
		To:      to,
		Valid:   m.NextStates(from),
	}
}
