package models

import (
	"time"
)

// User represents a mailsync user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransportSecurity selects how the IMAP connection is secured.
type TransportSecurity string

const (
	TransportTLS      TransportSecurity = "tls"
	TransportSTARTTLS TransportSecurity = "starttls"
	TransportNone     TransportSecurity = "none"
)

// Valid reports whether t is one of the supported modes.
func (t TransportSecurity) Valid() bool {
	switch t {
	case TransportTLS, TransportSTARTTLS, TransportNone:
		return true
	default:
		return false
	}
}

// DefaultPort returns the well-known IMAP port for the transport mode.
func (t TransportSecurity) DefaultPort() int {
	if t == TransportTLS {
		return 993
	}
	return 143
}

const (
	MinTimeoutMs             = 30000
	MaxTimeoutMs             = 300000
	DefaultTimeoutMs         = 60000
	MinMessagesPerFolder     = 10
	MaxMessagesPerFolder     = 1000
	DefaultMessagesPerFolder = 100
)

// AccountSettings holds the connection settings of a user's remote mailbox.
// Secret is the decrypted password; it only lives in memory and is never serialized.
type AccountSettings struct {
	UserID               string            `json:"user_id"`
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	Username             string            `json:"username"`
	Secret               string            `json:"-"`
	EncryptedSecret      []byte            `json:"-"`
	TransportSecurity    TransportSecurity `json:"transport_security"`
	TimeoutMs            int               `json:"timeout_ms"`
	MaxMessagesPerFolder int               `json:"max_messages_per_folder"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// EffectivePort returns the explicit port, or the transport default when none is set.
func (s *AccountSettings) EffectivePort() int {
	if s.Port > 0 {
		return s.Port
	}
	return s.TransportSecurity.DefaultPort()
}

// Timeout returns the upper bound for a single gateway round-trip.
func (s *AccountSettings) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// SyncAccountState is the per-user synchronization state shown by the mailbox UI.
type SyncAccountState struct {
	UserID      string     `json:"-"`
	Configured  bool       `json:"configured"`
	SyncEnabled bool       `json:"sync_enabled"`
	LastSyncAt  *time.Time `json:"last_sync_at"`
	LastError   *string    `json:"last_error"`
}

// AccountSettingsRequest represents the request payload for saving or testing settings.
type AccountSettingsRequest struct {
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	Username             string            `json:"username"`
	Secret               string            `json:"secret"`
	TransportSecurity    TransportSecurity `json:"transport_security"`
	TimeoutMs            int               `json:"timeout_ms"`
	MaxMessagesPerFolder int               `json:"max_messages_per_folder"`
}

// AccountSettingsResponse represents the response payload for settings (the secret is never included).
type AccountSettingsResponse struct {
	Host                 string            `json:"host"`
	Port                 int               `json:"port"`
	Username             string            `json:"username"`
	SecretSet            bool              `json:"secret_set"`
	TransportSecurity    TransportSecurity `json:"transport_security"`
	TimeoutMs            int               `json:"timeout_ms"`
	MaxMessagesPerFolder int               `json:"max_messages_per_folder"`
}

// AuthStatusResponse represents the authentication and setup status of a user.
type AuthStatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	IsSetupComplete bool `json:"isSetupComplete"`
}
