package pullreq

import (
	"fmt"
	"sort"
)

// PullRequest is a snapshot of the external label-bearing object: the
// current label set plus the concurrency token it was read with. Writes
// conditioned on the token fail when the object changed since the read.
type PullRequest struct {
	Number int
	Labels []string
	ETag   string
}

// HasLabel reports whether the snapshot carries the label
func (p *PullRequest) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// TransitionAction is the kind of label operation
type TransitionAction string

const (
	ActionAdd     TransitionAction = "add"
	ActionRemove  TransitionAction = "remove"
	ActionReplace TransitionAction = "replace"
)

// LabelTransition is one label operation. Replace removes FromLabel and
// adds Labels in its place.
type LabelTransition struct {
	Action    TransitionAction
	Labels    []string
	FromLabel string
}

// NewLabelTransition validates and creates a transition
func NewLabelTransition(action TransitionAction, labels []string, fromLabel string) (LabelTransition, error) {
	switch action {
	case ActionAdd, ActionRemove:
		if len(labels) == 0 {
			return LabelTransition{}, fmt.Errorf("%s transition requires at least one label", action)
		}
	case ActionReplace:
		if fromLabel == "" {
			return LabelTransition{}, fmt.Errorf("replace transition requires a from label")
		}
	default:
		return LabelTransition{}, fmt.Errorf("invalid transition action: %q", action)
	}
	return LabelTransition{Action: action, Labels: labels, FromLabel: fromLabel}, nil
}

// ApplyTransitions folds the transitions over the current label set and
// returns the desired set, sorted for stable writes.
func ApplyTransitions(current []string, transitions []LabelTransition) []string {
	set := make(map[string]bool, len(current))
	for _, l := range current {
		set[l] = true
	}
	for _, t := range transitions {
		switch t.Action {
		case ActionAdd:
			for _, l := range t.Labels {
				set[l] = true
			}
		case ActionRemove:
			for _, l := range t.Labels {
				delete(set, l)
			}
		case ActionReplace:
			delete(set, t.FromLabel)
			for _, l := range t.Labels {
				set[l] = true
			}
		}
	}
	desired := make([]string, 0, len(set))
	for l := range set {
		desired = append(desired, l)
	}
	sort.Strings(desired)
	return desired
}
