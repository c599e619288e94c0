package models

import "testing"

func TestIsValidStepUpTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{StepUpStatusPending, StepUpStatusApproved, true},
		{StepUpStatusPending, StepUpStatusRejected, true},
		{StepUpStatusPending, StepUpStatusExpired, true},

		{StepUpStatusApproved, StepUpStatusRejected, false},
		{StepUpStatusApproved, StepUpStatusPending, false},
		{StepUpStatusRejected, StepUpStatusApproved, false},
		{StepUpStatusExpired, StepUpStatusApproved, false},
		{"nonexistent", StepUpStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidStepUpTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidStepUpTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestStepUpTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{StepUpStatusApproved, StepUpStatusRejected, StepUpStatusExpired}
	for _, status := range terminal {
		transitions := ValidStepUpTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}
