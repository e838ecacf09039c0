package entities

import (
	"encoding/json"
	"time"
)

// AuditLog represents a security audit log entry
type AuditLog struct {
	ID         int64          `json:"id" db:"id"`
	Audience   Audience       `json:"audience" db:"audience"`
	AccountID  *int64         `json:"account_id,omitempty" db:"account_id"` // null when no account was resolved
	Action     AuditAction    `json:"action" db:"action"`
	Resource   AuditResource  `json:"resource" db:"resource"`
	ResourceID *string        `json:"resource_id,omitempty" db:"resource_id"`
	IPAddress  *string        `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string        `json:"user_agent,omitempty" db:"user_agent"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"` // stored as JSON in DB
	Success    bool           `json:"success" db:"success"`
	ErrorMsg   *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// AuditAction represents the type of action being audited
type AuditAction string

const (
	ActionLoginSucceeded AuditAction = "login.succeeded"
	ActionLoginFailed    AuditAction = "login.failed"
	ActionLogout         AuditAction = "login.logout"

	ActionLinkCreated     AuditAction = "link.created"
	ActionLinkDeactivated AuditAction = "link.deactivated"
	ActionLinkTombstoned  AuditAction = "link.tombstoned"
	ActionLinkFailed      AuditAction = "link.failed"

	ActionAccountCreated AuditAction = "account.created"
)

// AuditResource represents the type of resource being acted upon
type AuditResource string

const (
	ResourceAccount      AuditResource = "account"
	ResourceIdentityLink AuditResource = "identity_link"
)

// NewAuditLog creates a new audit log entry
func NewAuditLog(audience Audience, accountID *int64, action AuditAction, resource AuditResource) *AuditLog {
	return &AuditLog{
		Audience:  audience,
		AccountID: accountID,
		Action:    action,
		Resource:  resource,
		Success:   true,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// WithResourceID sets the resource ID
func (a *AuditLog) WithResourceID(resourceID int64) *AuditLog {
	id := FormatID(resourceID)
	a.ResourceID = &id
	return a
}

// WithIPAddress sets the IP address
func (a *AuditLog) WithIPAddress(ip string) *AuditLog {
	a.IPAddress = &ip
	return a
}

// WithUserAgent sets the user agent
func (a *AuditLog) WithUserAgent(userAgent string) *AuditLog {
	a.UserAgent = &userAgent
	return a
}

// WithError marks the audit log as failed with an error message
func (a *AuditLog) WithError(err error) *AuditLog {
	a.Success = false
	msg := err.Error()
	a.ErrorMsg = &msg
	return a
}

// WithMetadata adds metadata to the audit log
func (a *AuditLog) WithMetadata(key string, value any) *AuditLog {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
	return a
}

// MarshalMetadataToJSON converts metadata map to JSON string for database storage
func (a *AuditLog) MarshalMetadataToJSON() (string, error) {
	if a.Metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a.Metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadataFromJSON converts JSON string from database to metadata map
func (a *AuditLog) UnmarshalMetadataFromJSON(data string) error {
	if data == "" || data == "{}" {
		a.Metadata = make(map[string]any)
		return nil
	}
	return json.Unmarshal([]byte(data), &a.Metadata)
}

// IsSecurityEvent returns true for failed or destructive actions
func (a *AuditLog) IsSecurityEvent() bool {
	if !a.Success {
		return true
	}
	switch a.Action {
	case ActionLoginFailed, ActionLinkFailed, ActionLinkTombstoned:
		return true
	default:
		return false
	}
}
