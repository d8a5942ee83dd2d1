package models

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// ReviewerAuto marks items published by the confidence gate without a human.
const ReviewerAuto = "auto"

// Item is the unit flowing through the review pipeline. Prompt, Confidence
// and CreatedAt are fixed at creation; Output changes only through an edit
// transition. The confidence that drove the routing decision is kept for
// audit even after publication.
type Item struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Output     string     `json:"output"`
	Confidence float64    `json:"confidence"`
	TrueLabel  string     `json:"true_label,omitempty"`
	Status     Status     `json:"status"`
	ReviewerID string     `json:"reviewer_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// LabeledExample is a human-labeled training pair for the classifier.
type LabeledExample struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}
