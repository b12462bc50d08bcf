package domain

import (
	"strings"
	"time"
)

// RequiredUserFields lists the fields a cached user must carry.
// A record missing any of them is never persisted.
var RequiredUserFields = []string{"id", "name", "phone", "createdAt"}

// User represents the authenticated user as returned by the backend
type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone"`
	Gender    string     `json:"gender,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	CoverURL  string     `json:"coverUrl,omitempty"`
	DOB       *time.Time `json:"dob,omitempty"`
	IsOnline  bool       `json:"isOnline"`
	Password  string     `json:"password,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Profile is the non-sensitive projection of a User shown to the UI
type Profile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone"`
	Gender    string     `json:"gender,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	CoverURL  string     `json:"coverUrl,omitempty"`
	DOB       *time.Time `json:"dob,omitempty"`
	IsOnline  bool       `json:"isOnline"`
}

// UserPatch is a partial user update. Nil fields are left untouched.
type UserPatch struct {
	Name      *string    `json:"name,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Gender    *string    `json:"gender,omitempty"`
	AvatarURL *string    `json:"avatarUrl,omitempty"`
	CoverURL  *string    `json:"coverUrl,omitempty"`
	DOB       *time.Time `json:"dob,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Gender == nil &&
		p.AvatarURL == nil && p.CoverURL == nil && p.DOB == nil
}

// Profile projects the user, dropping secret and audit fields
func (u *User) Profile() *Profile {
	if u == nil {
		return nil
	}
	return &Profile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Gender:    u.Gender,
		AvatarURL: u.AvatarURL,
		CoverURL:  u.CoverURL,
		DOB:       u.DOB,
		IsOnline:  u.IsOnline,
	}
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.DOB != nil {
		dob := *u.DOB
		c.DOB = &dob
	}
	return &c
}

// Sanitized returns a copy safe for caching: the password is never stored.
func (u *User) Sanitized() *User {
	c := u.Clone()
	if c != nil {
		c.Password = ""
	}
	return c
}

// MergeFrom overlays the non-zero fields of confirmed onto a copy of u.
// The server-confirmed record takes precedence over local state.
func (u *User) MergeFrom(confirmed *User) *User {
	merged := u.Clone()
	if merged == nil {
		return confirmed.Clone()
	}
	if confirmed == nil {
		return merged
	}

	overlay := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	overlay(&merged.ID, confirmed.ID)
	overlay(&merged.Name, confirmed.Name)
	overlay(&merged.Email, confirmed.Email)
	overlay(&merged.Phone, confirmed.Phone)
	overlay(&merged.Gender, confirmed.Gender)
	overlay(&merged.AvatarURL, confirmed.AvatarURL)
	overlay(&merged.CoverURL, confirmed.CoverURL)

	if confirmed.DOB != nil {
		dob := *confirmed.DOB
		merged.DOB = &dob
	}
	merged.IsOnline = confirmed.IsOnline
	if !confirmed.CreatedAt.IsZero() {
		merged.CreatedAt = confirmed.CreatedAt
	}
	if !confirmed.UpdatedAt.IsZero() {
		merged.UpdatedAt = confirmed.UpdatedAt
	}
	merged.Password = ""
	return merged
}

// MissingFields returns the required fields that are empty on u
func (u *User) MissingFields() []string {
	if u == nil {
		return append([]string(nil), RequiredUserFields...)
	}
	var missing []string
	for _, field := range RequiredUserFields {
		switch field {
		case "id":
			if strings.TrimSpace(u.ID) == "" {
				missing = append(missing, field)
			}
		case "name":
			if strings.TrimSpace(u.Name) == "" {
				missing = append(missing, field)
			}
		case "phone":
			if strings.TrimSpace(u.Phone) == "" {
				missing = append(missing, field)
			}
		case "createdAt":
			if u.CreatedAt.IsZero() {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// IsComplete reports whether all required fields are present
func (u *User) IsComplete() bool {
	return len(u.MissingFields()) == 0
}

// Apply returns a copy of u with the patch's set fields applied
func (u *User) Apply(p UserPatch) *User {
	out := u.Clone()
	if out == nil {
		out = &User{}
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&out.Name, p.Name)
	set(&out.Email, p.Email)
	set(&out.Phone, p.Phone)
	set(&out.Gender, p.Gender)
	set(&out.AvatarURL, p.AvatarURL)
	set(&out.CoverURL, p.CoverURL)
	if p.DOB != nil {
		dob := *p.DOB
		out.DOB = &dob
	}
	return out
}
