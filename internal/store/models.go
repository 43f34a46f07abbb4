package store

import "time"

type User struct {
	ID                    string
	Email                 string
	Name                  string
	Role                  string
	OrgID                 int
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Document struct {
	ID          string
	OrgID       int
	TemplateKey string
	Title       string
	Status      string
	OwnerEmail  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Derived from the versions table, zero when no versions remain.
	LatestVersion int
}

type Version struct {
	ID         string
	DocumentID string
	Version    int
	HTML       string
	ParamsJSON string
	CreatedAt  time.Time
}

type Approval struct {
	ID          string
	DocumentID  string
	Version     *int
	Reviewer    string
	Status      string
	Note        string
	RequestedAt time.Time
	DecidedAt   *time.Time
}

type ApprovalSummary struct {
	Pending  int
	Approved int
	Rejected int
}

type Comment struct {
	ID         string
	DocumentID string
	Version    *int
	Author     string
	Body       string
	CreatedAt  time.Time
}

type Template struct {
	Key        string
	Title      string
	Body       string
	SchemaJSON string
	UpdatedAt  time.Time
}

type Assessment struct {
	ID             string
	OrgID          int
	FrameworkKey   string
	ControlID      string
	Status         *string
	OwnerEmail     *string
	Notes          *string
	EvidenceLinks  []string
	LastReviewedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AssessmentPatch carries a partial update; nil fields are left untouched.
type AssessmentPatch struct {
	Status         *string
	OwnerEmail     *string
	Notes          *string
	EvidenceLinks  *[]string
	LastReviewedAt *time.Time
}

type Notification struct {
	ID          string
	OrgID       int
	TargetEmail string
	Type        string
	Message     string
	DocumentID  *string
	Version     *int
	ApprovalID  *string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
