package store

import (
	"time"

	"gorm.io/datatypes"

	"filevault/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"uniqueIndex;not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	FullName  string `gorm:"not null"`
	Avatar    string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type PasscodeModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index:idx_passcodes_user_expiry,priority:1"`
	CodeHash  string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index:idx_passcodes_user_expiry,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (PasscodeModel) TableName() string { return "passcodes" }

type SessionModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	TokenHash string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (SessionModel) TableName() string { return "sessions" }

type FileModel struct {
	ID         string `gorm:"primaryKey"`
	OwnerID    string `gorm:"not null;index"`
	AccountID  string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	StorageKey string `gorm:"not null"`
	Type       string `gorm:"not null"`
	Extension  string
	Size       int64                       `gorm:"not null"`
	ShareToken *string                     `gorm:"uniqueIndex"`
	Users      datatypes.JSONSlice[string] `gorm:"not null"`
	CreatedAt  time.Time                   `gorm:"not null;index"`
	UpdatedAt  time.Time                   `gorm:"not null"`
}

func (FileModel) TableName() string { return "files" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		AccountID: u.AccountID,
		Email:     domain.NormalizeEmail(u.Email),
		FullName:  u.FullName,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt.UTC(),
		UpdatedAt: u.UpdatedAt.UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		AccountID: m.AccountID,
		Email:     m.Email,
		FullName:  m.FullName,
		Avatar:    m.Avatar,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func passcodeToModel(p domain.Passcode) PasscodeModel {
	return PasscodeModel{
		ID:        p.ID,
		UserID:    p.UserID,
		CodeHash:  p.CodeHash,
		ExpiresAt: p.ExpiresAt.UTC(),
		CreatedAt: p.CreatedAt.UTC(),
	}
}

func passcodeFromModel(m PasscodeModel) domain.Passcode {
	return domain.Passcode{
		ID:        m.ID,
		UserID:    m.UserID,
		CodeHash:  m.CodeHash,
		ExpiresAt: m.ExpiresAt.UTC(),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func sessionToModel(s domain.Session) SessionModel {
	return SessionModel{
		ID:        s.ID,
		UserID:    s.UserID,
		TokenHash: s.TokenHash,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt.UTC(),
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		ID:        m.ID,
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		CreatedAt: m.CreatedAt.UTC(),
		ExpiresAt: m.ExpiresAt.UTC(),
	}
}

func fileToModel(f domain.File) FileModel {
	var token *string
	if f.ShareToken != "" {
		t := f.ShareToken
		token = &t
	}
	users := make([]string, 0, len(f.Users))
	for _, u := range f.Users {
		users = append(users, domain.NormalizeEmail(u))
	}
	return FileModel{
		ID:         f.ID,
		OwnerID:    f.OwnerID,
		AccountID:  f.AccountID,
		Name:       f.Name,
		StorageKey: f.StorageKey,
		Type:       f.Type,
		Extension:  f.Extension,
		Size:       f.Size,
		ShareToken: token,
		Users:      datatypes.JSONSlice[string](users),
		CreatedAt:  f.CreatedAt.UTC(),
		UpdatedAt:  f.UpdatedAt.UTC(),
	}
}

func fileFromModel(m FileModel) domain.File {
	f := domain.File{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		AccountID:  m.AccountID,
		Name:       m.Name,
		StorageKey: m.StorageKey,
		Type:       m.Type,
		Extension:  m.Extension,
		Size:       m.Size,
		Users:      append([]string{}, m.Users...),
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
	if m.ShareToken != nil {
		f.ShareToken = *m.ShareToken
	}
	return f
}
