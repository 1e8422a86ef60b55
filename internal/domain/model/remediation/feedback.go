package remediation

import (
	"fmt"
	"time"
)

// Severity of a feedback entry
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// IssueType classifies the kind of problem the feedback reports
type IssueType string

const (
	IssueTypeBug           IssueType = "Bug"
	IssueTypeEnhancement   IssueType = "Enhancement"
	IssueTypeDocumentation IssueType = "Documentation"
	IssueTypePerformance   IssueType = "Performance"
	IssueTypeSecurity      IssueType = "Security"
)

// FeedbackEntry is one piece of reviewer feedback attached to a
// remediation cycle. Entries are identified by the pair
// (SourceCommentID, Timestamp); no two entries in a history share it.
type FeedbackEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Author          string    `json:"author"`
	Severity        Severity  `json:"severity"`
	IssueType       IssueType `json:"issue_type"`
	Description     string    `json:"description"`
	Resolved        bool      `json:"resolved"`
	SourceCommentID string    `json:"source_comment_id"`
}

// NewFeedbackEntry validates and creates a feedback entry
func NewFeedbackEntry(
	timestamp time.Time,
	author string,
	severity Severity,
	issueType IssueType,
	description string,
	sourceCommentID string,
) (FeedbackEntry, error) {
	if sourceCommentID == "" {
		return FeedbackEntry{}, fmt.Errorf("source comment ID cannot be empty")
	}
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return FeedbackEntry{}, fmt.Errorf("invalid severity: %q", severity)
	}
	switch issueType {
	case IssueTypeBug, IssueTypeEnhancement, IssueTypeDocumentation, IssueTypePerformance, IssueTypeSecurity:
	default:
		return FeedbackEntry{}, fmt.Errorf("invalid issue type: %q", issueType)
	}
	return FeedbackEntry{
		Timestamp:       timestamp.UTC(),
		Author:          author,
		Severity:        severity,
		IssueType:       issueType,
		Description:     description,
		SourceCommentID: sourceCommentID,
	}, nil
}

// DuplicateOf reports whether two entries share the uniqueness key
func (e FeedbackEntry) DuplicateOf(other FeedbackEntry) bool {
	return e.SourceCommentID == other.SourceCommentID && e.Timestamp.Equal(other.Timestamp)
}
