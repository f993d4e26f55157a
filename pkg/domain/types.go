package domain

import (
	"strings"
	"time"
)

// User is the single principal type. Email is stored normalized (trimmed,
// lower-cased) and is unique.
type User struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Passcode is a one-time login credential. Only the bcrypt hash of the code
// is kept.
type Passcode struct {
	ID        string
	UserID    string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Session is the server-side record behind the session cookie. The cookie
// carries the raw token; TokenHash is sha256(token).
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// File is an uploaded object owned by one user.
type File struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	AccountID  string    `json:"accountId"`
	Name       string    `json:"name"`
	StorageKey string    `json:"-"`
	Type       string    `json:"type"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	ShareToken string    `json:"shareToken,omitempty"`
	Users      []string  `json:"users"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SharedWith reports whether email is in the share list, ignoring case.
func (f File) SharedWith(email string) bool {
	email = NormalizeEmail(email)
	if email == "" {
		return false
	}
	for _, u := range f.Users {
		if NormalizeEmail(u) == email {
			return true
		}
	}
	return false
}

// Role is the effective permission a caller holds on a file.
type Role string

const (
	RoleNone       Role = "none"
	RolePublic     Role = "public"
	RoleSharedUser Role = "shared-user"
	RoleOwner      Role = "owner"
)

// Operation is an action on a file subject to access control.
type Operation string

const (
	OpRename       Operation = "rename"
	OpDelete       Operation = "delete"
	OpManageShares Operation = "share"
	OpDisableLink  Operation = "disable-link"
	OpDownload     Operation = "download"
	OpViewMetadata Operation = "view"
)

// Allows reports whether the role may perform op.
func (r Role) Allows(op Operation) bool {
	switch op {
	case OpRename, OpDelete, OpManageShares, OpDisableLink:
		return r == RoleOwner
	case OpDownload, OpViewMetadata:
		return r == RoleOwner || r == RoleSharedUser || r == RolePublic
	default:
		return false
	}
}

// UsageCategory aggregates bytes and the newest upload for one media group.
type UsageCategory struct {
	Size       int64      `json:"size"`
	LatestDate *time.Time `json:"latestDate"`
}

// Usage is the per-account storage summary.
type Usage struct {
	Document UsageCategory `json:"document"`
	Image    UsageCategory `json:"image"`
	Video    UsageCategory `json:"video"`
	Audio    UsageCategory `json:"audio"`
	Other    UsageCategory `json:"other"`
	Used     int64         `json:"used"`
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
