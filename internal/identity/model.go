package identity

import (
	"strings"
	"time"

	"filevault/internal/shared/apperr"
	"filevault/internal/shared/storage/object"
)

const maxNameLen = 100

// Identity is a registered principal.
type Identity struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	AvatarKey    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Update is the closed set of mutable identity fields. Nil means unchanged.
type Update struct {
	Name      *string
	AvatarKey *string
}

// SetName returns an Update that changes the display name.
func SetName(name string) Update {
	return Update{Name: &name}
}

// SetAvatarKey returns an Update that replaces the avatar reference.
func SetAvatarKey(key string) Update {
	return Update{AvatarKey: &key}
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.AvatarKey == nil
}

// Validate checks field values before they reach a backend.
func (u Update) Validate() error {
	if u.Empty() {
		return apperr.Validation("Nothing to update")
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return apperr.Validation("Name is required")
		}
		if len(name) > maxNameLen {
			return apperr.Validation("Name is too long")
		}
	}
	if u.AvatarKey != nil && *u.AvatarKey != "" {
		if err := object.ValidateKey(*u.AvatarKey); err != nil {
			return apperr.Validation("Invalid avatar key")
		}
	}
	return nil
}

// normalized returns u with the name trimmed.
func (u Update) normalized() Update {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		u.Name = &name
	}
	return u
}

// apply mutates id in place. Used by the memory backend.
func (u Update) apply(id *Identity) {
	u = u.normalized()
	if u.Name != nil {
		id.Name = *u.Name
	}
	if u.AvatarKey != nil {
		id.AvatarKey = *u.AvatarKey
	}
}

// NormalizeEmail canonicalizes an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
