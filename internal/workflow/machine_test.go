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

package workflow

import (
	"errors"
	"strings"
	"testing"
)

// TestMessageMachine_HappyPath walks the full pipeline from fetched to
// jira_success.
func TestMessageMachine_HappyPath(t *testing.T) {
	path := []Status{
		StatusFetched,
		StatusOCRProcessing,
		StatusOCRSuccess,
		StatusSummaryProcessing,
		StatusSummarySuccess,
		StatusJiraProcessing,
		StatusJiraSuccess,
	}

	for i := 0; i < len(path)-1; i++ {
		if err := MessageMachine.Validate(path[i], path[i+1]); err != nil {
			t.Errorf("step %s -> %s rejected: %v", path[i], path[i+1], err)
		}
	}
}

// TestMessageMachine_RetryEdges verifies each failure state can loop
// back into its processing state.
func TestMessageMachine_RetryEdges(t *testing.T) {
	retries := map[Status]Status{
		StatusOCRFailed:     StatusOCRProcessing,
		StatusSummaryFailed: StatusSummaryProcessing,
		StatusJiraFailed:    StatusJiraProcessing,
	}

	for from, to := range retries {
		if !MessageMachine.CanTransition(from, to) {
			t.Errorf("retry edge %s -> %s missing", from, to)
		}
	}
}

// TestMessageMachine_Totality: every non-terminal state has next
// states; jira_success has none; anything not in the set is rejected.
func TestMessageMachine_Totality(t *testing.T) {
	for _, s := range []Status{
		StatusFetched, StatusOCRProcessing, StatusOCRSuccess, StatusOCRFailed,
		StatusSummaryProcessing, StatusSummarySuccess, StatusSummaryFailed,
		StatusJiraProcessing, StatusJiraFailed,
	} {
		next := MessageMachine.NextStates(s)
		if len(next) == 0 {
			t.Errorf("non-terminal state %s has no next states", s)
		}
		// Every state outside the next set must be rejected.
		allowed := make(map[Status]bool)
		for _, n := range next {
			allowed[n] = true
		}
		for to := range MessageMachine.edges {
			if allowed[to] {
				continue
			}
			if err := MessageMachine.Validate(s, to); err == nil {
				t.Errorf("transition %s -> %s accepted but not in adjacency list", s, to)
			}
		}
	}

	if next := MessageMachine.NextStates(StatusJiraSuccess); len(next) != 0 {
		t.Errorf("jira_success has outgoing edges: %v", next)
	}
	if !MessageMachine.Terminal(StatusJiraSuccess) {
		t.Error("jira_success not terminal")
	}
}

// TestValidate_ErrorNamesStates: the rejection names current state,
// requested state, and the valid set.
func TestValidate_ErrorNamesStates(t *testing.T) {
	err := MessageMachine.Validate(StatusFetched, StatusJiraSuccess)
	if err == nil {
		t.Fatal("fetched -> jira_success accepted")
	}

	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if ite.From != StatusFetched || ite.To != StatusJiraSuccess {
		t.Errorf("error states = %s -> %s", ite.From, ite.To)
	}

	msg := err.Error()
	for _, want := range []string{"fetched", "jira_success", "ocr_processing"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

// TestAttachmentMachine covers the smaller attachment-level graph and
// that the two machines are distinct instances.
func TestAttachmentMachine(t *testing.T) {
	if err := AttachmentMachine.Validate(StatusAttachmentPending, StatusAttachmentOCRProcessing); err != nil {
		t.Errorf("pending -> ocr_processing rejected: %v", err)
	}
	if !AttachmentMachine.CanTransition(StatusAttachmentOCRFailed, StatusAttachmentOCRProcessing) {
		t.Error("attachment retry edge missing")
	}
	if !AttachmentMachine.Terminal(StatusAttachmentOCRSuccess) {
		t.Error("attachment ocr_success not terminal")
	}

	// Message-only states must not leak into the attachment machine.
	if AttachmentMachine.Known(StatusSummaryProcessing) {
		t.Error("attachment machine accepts summary_processing")
	}
	if AttachmentMachine.CanTransition(StatusAttachmentOCRSuccess, StatusSummaryProcessing) {
		t.Error("attachment machine allows cross-machine edge")
	}
}

// TestNextStates_UnknownState returns nil for a state outside the
// machine.
func TestNextStates_UnknownState(t *testing.T) {
	if next := MessageMachine.NextStates(Status("no_such_state")); next != nil {
		t.Errorf("unknown state returned %v", next)
	}
}
