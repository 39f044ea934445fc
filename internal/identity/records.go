package identity

import "time"

// Profile carries the optional identity fields fetched from a platform.
// Absent fields stay nil so the store can tell "not provided" from "empty".
type Profile struct {
	Username    string  `json:"username"`
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// ChainRef points at the on-chain transaction that acknowledged a record.
type ChainRef struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

// LinkRecord is the durable unit of progress for the verification workflow.
// At most one exists per (SubjectID, Platform).
type LinkRecord struct {
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	Platform        Platform  `json:"platform"`
	ExternalAccount string    `json:"external_account_id"`
	Profile         Profile   `json:"profile"`
	AttestationHash string    `json:"attestation_hash"`
	Signature       string    `json:"signature"`
	Status          Status    `json:"status"`
	ChainRef        *ChainRef `json:"chain_ref,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BadgeAttribute is one trait on a badge.
type BadgeAttribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// BadgeMetadata is the content-addressed payload published for a task's badge.
type BadgeMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Image       string           `json:"image"`
	Attributes  []BadgeAttribute `json:"attributes"`
}

// TaskRecord is the durable unit of progress for the creation workflow.
// ContentRef is empty until the metadata publish succeeds; ChainRef is nil
// until the chain submit succeeds. A record may sit in that gap indefinitely
// and remains retryable through the chain-submit path alone.
type TaskRecord struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ValidationKind ValidationKind `json:"validation_kind"`
	Network        Network        `json:"network"`
	TargetContract string         `json:"target_contract"`
	Threshold      int64          `json:"threshold"`
	Badge          BadgeMetadata  `json:"badge"`
	ContentRef     string         `json:"content_ref,omitempty"`
	ChainRef       *ChainRef      `json:"chain_ref,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ValidationRecord stores one successful task validation for a subject,
// with the signature that lets the subject mint against the task.
type ValidationRecord struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subject_id"`
	TaskID        string    `json:"task_id"`
	WalletAddress string    `json:"wallet_address"`
	ActualBalance string    `json:"actual_balance"`
	Signature     string    `json:"signature"`
	MessageHash   string    `json:"message_hash"`
	CreatedAt     time.Time `json:"created_at"`
}
