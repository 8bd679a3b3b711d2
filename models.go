package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubscriptionTier is the user's plan
type SubscriptionTier = string

const (
	// SubscriptionStarter is the default plan
	SubscriptionStarter SubscriptionTier = "starter"
	// SubscriptionPro is the pro plan
	SubscriptionPro SubscriptionTier = "pro"
	// SubscriptionBusiness is the business plan
	SubscriptionBusiness SubscriptionTier = "business"
)

// SubscriptionTiers lists every accepted plan
var SubscriptionTiers = []any{
	SubscriptionStarter,
	SubscriptionPro,
	SubscriptionBusiness,
}

const gravatarURL = "https://www.gravatar.com/avatar/%s?s=250&d=identicon"

// User is the user model. SessionToken and VerificationToken are stored
// as NULL when empty.
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID        `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email             string           `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash      string           `bun:"password_hash,notnull" json:"-"`
	Subscription      SubscriptionTier `bun:"subscription,notnull" json:"subscription,omitempty"`
	SessionToken      string           `bun:"session_token,nullzero" json:"-"`
	AvatarURL         string           `bun:"avatar_url,notnull" json:"avatar_url,omitempty"`
	IsVerified        bool             `bun:"is_verified,notnull" json:"is_verified"`
	VerificationToken string           `bun:"verification_token,nullzero" json:"-"`
	CreatedAt         time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
}

// PublicUser is the subset of a User that is safe to return to clients
type PublicUser struct {
	Email        string           `json:"email"`
	Subscription SubscriptionTier `json:"subscriptionTier"`
	AvatarURL    string           `json:"avatarURL"`
}

// Public returns the public projection of the user
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		Email:        u.Email,
		Subscription: u.Subscription,
		AvatarURL:    u.AvatarURL,
	}
}

// HasSession reports whether token is the user's live session
func (u *User) HasSession(token string) bool {
	if u == nil || u.SessionToken == "" || token == "" {
		return false
	}
	return ConstantTimeEquals(u.SessionToken, token)
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultAvatarURL derives the Gravatar identicon for an email. The same
// address always yields the same URL.
func DefaultAvatarURL(email string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email)))
	return fmt.Sprintf(gravatarURL, hex.EncodeToString(sum[:]))
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Subscription == "" {
		record.Subscription = SubscriptionStarter
	}

	if record.AvatarURL == "" {
		record.AvatarURL = DefaultAvatarURL(record.Email)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
