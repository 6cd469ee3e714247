// Package models defines the domain types shared by AlterEgo modules: user profiles,
// contracts, win history, day scores, and the API response envelope.
package models

import (
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by stores and validators.
var (
	ErrEmptyUserID     = errors.New("user id cannot be empty")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidScore    = errors.New("score must be between 0 and 100")
	ErrEmptyContract   = errors.New("contract goal, deadline and stake are required")
)

// SubscriptionStatus is the paid-access state of a user.
type SubscriptionStatus string

const (
	// SubscriptionNone is the default for every new profile.
	SubscriptionNone SubscriptionStatus = "none"
	// SubscriptionActive marks a user with paid access to the fixed program.
	SubscriptionActive SubscriptionStatus = "active"
)

// DefaultSubscriptionPeriod is how long one activation lasts.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

// IsValidSubscriptionStatus reports whether s is a known status.
func IsValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionNone, SubscriptionActive:
		return true
	}
	return false
}

// Profile is the persistent per-user record.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Username    string `json:"username,omitempty"`

	// Free-text answers collected by the profile questionnaire.
	Pain  string `json:"pain,omitempty"`
	Fear  string `json:"fear,omitempty"`
	Goal  string `json:"goal,omitempty"`
	Price string `json:"price,omitempty"`

	Status             SubscriptionStatus `json:"subscription_status"`
	SubscriptionStart  *time.Time         `json:"subscription_start,omitempty"`
	SubscriptionExpiry *time.Time         `json:"subscription_expiry,omitempty"`
	LastCompletedDay   int                `json:"last_completed_day"`
	ProgramCompletedAt *time.Time         `json:"program_completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the subscription grants access at now.
// An expired subscription counts as inactive even when the stored status is still active.
func (p *Profile) IsActive(now time.Time) bool {
	if p == nil || p.Status != SubscriptionActive {
		return false
	}
	if p.SubscriptionExpiry != nil && !now.Before(*p.SubscriptionExpiry) {
		return false
	}
	return true
}

// Name returns the best available human-readable name.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// ProfileUpdate carries a partial profile write. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	Pain        *string `json:"pain,omitempty"`
	Fear        *string `json:"fear,omitempty"`
	Goal        *string `json:"goal,omitempty"`
	Price       *string `json:"price,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.DisplayName == nil && u.Username == nil && u.Pain == nil &&
		u.Fear == nil && u.Goal == nil && u.Price == nil
}

// Apply copies the non-nil fields of u onto p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.Pain != nil {
		p.Pain = *u.Pain
	}
	if u.Fear != nil {
		p.Fear = *u.Fear
	}
	if u.Goal != nil {
		p.Goal = *u.Goal
	}
	if u.Price != nil {
		p.Price = *u.Price
	}
}

// ContractStatus tracks a futures contract. Only active is written today.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractFailed    ContractStatus = "failed"
)

// Contract is a commitment the user signed with a goal, a deadline and a stake.
type Contract struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Goal      string         `json:"goal"`
	Deadline  string         `json:"deadline"`
	Stake     string         `json:"stake"`
	Status    ContractStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks that every field a contract needs is present.
func (c *Contract) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(c.Goal) == "" || strings.TrimSpace(c.Deadline) == "" || strings.TrimSpace(c.Stake) == "" {
		return ErrEmptyContract
	}
	return nil
}

// WinEntry is one raw submission in the append-only win history.
type WinEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// DayScore is a same-day self assessment in percent.
type DayScore struct {
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// DateLayout formats DayScore.Date.
const DateLayout = "2006-01-02"

// ValidateScore checks the percent range.
func ValidateScore(score int) error {
	if score < 0 || score > 100 {
		return ErrInvalidScore
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt is a delivery event reported by a transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a user as seen by the transport.
type Response struct {
	From string `json:"from"`
	Name string `json:"name,omitempty"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
