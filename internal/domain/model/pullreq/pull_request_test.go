package pullreq

import (
	"reflect"
	"testing"
)

func TestHasLabel(t *testing.T) {
	pr := &PullRequest{Number: 7, Labels: []string{"bug", "ready-for-remediation"}}

	if !pr.HasLabel("bug") {
		t.Error("HasLabel(bug) = false, want true")
	}
	if pr.HasLabel("enhancement") {
		t.Error("HasLabel(enhancement) = true, want false")
	}
}

func TestNewLabelTransition(t *testing.T) {
	tests := []struct {
		name      string
		action    TransitionAction
		labels    []string
		fromLabel string
		wantErr   bool
	}{
		{"Valid add", ActionAdd, []string{"in-progress"}, "", false},
		{"Valid remove", ActionRemove, []string{"ready"}, "", false},
		{"Valid replace", ActionReplace, []string{"in-progress"}, "ready", false},
		{"Add without labels", ActionAdd, nil, "", true},
		{"Remove without labels", ActionRemove, nil, "", true},
		{"Replace without from label", ActionReplace, []string{"x"}, "", true},
		{"Unknown action", TransitionAction("toggle"), []string{"x"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLabelTransition(tt.action, tt.labels, tt.fromLabel)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLabelTransition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name        string
		current     []string
		transitions []LabelTransition
		want        []string
	}{
		{
			"Add is idempotent",
			[]string{"bug"},
			[]LabelTransition{{Action: ActionAdd, Labels: []string{"bug", "urgent"}}},
			[]string{"bug", "urgent"},
		},
		{
			"Remove missing label is a no-op",
			[]string{"bug"},
			[]LabelTransition{{Action: ActionRemove, Labels: []string{"urgent"}}},
			[]string{"bug"},
		},
		{
			"Replace swaps workflow labels",
			[]string{"bug", "ready-for-remediation"},
			[]LabelTransition{{Action: ActionReplace, Labels: []string{"remediation-in-progress"}, FromLabel: "ready-for-remediation"}},
			[]string{"bug", "remediation-in-progress"},
		},
		{
			"Later transitions win",
			[]string{},
			[]LabelTransition{
				{Action: ActionAdd, Labels: []string{"x"}},
				{Action: ActionRemove, Labels: []string{"x"}},
			},
			[]string{},
		},
		{
			"Result is sorted",
			[]string{"zeta", "alpha"},
			[]LabelTransition{{Action: ActionAdd, Labels: []string{"mid"}}},
			[]string{"alpha", "mid", "zeta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyTransitions(tt.current, tt.transitions)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ApplyTransitions() = %v, want %v", got, tt.want)
			}
		})
	}
}
