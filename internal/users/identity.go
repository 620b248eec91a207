package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/auth"
)

const identitiesTable = "user_identities"

// ReviewerIdentity binds one login (provider and subject) to the author id stamped on reviews.
// The author id is fixed at first sight; profile columns follow the latest session claims.
type ReviewerIdentity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	AuthorID    string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ReviewerIdentity) TableName() string {
	return identitiesTable
}

func newReviewerIdentity(provider, subject string, claims auth.SessionClaims, seenAt time.Time) ReviewerIdentity {
	return ReviewerIdentity{
		Provider:    provider,
		Subject:     subject,
		AuthorID:    subject,
		Email:       trimClaim(claims.UserEmail),
		DisplayName: trimClaim(claims.UserDisplayName),
		AvatarURL:   trimClaim(claims.UserAvatarURL),
		LastSeenAt:  seenAt,
	}
}

func (i ReviewerIdentity) loginKey() string {
	return i.Provider + ":" + i.Subject
}

// profileChanges lists the columns whose claim value is set and differs from the stored one.
// Blank claims never erase a stored profile.
func (i ReviewerIdentity) profileChanges(claims auth.SessionClaims) map[string]interface{} {
	changes := map[string]interface{}{}
	for column, pair := range map[string][2]string{
		"user_email":        {i.Email, claims.UserEmail},
		"user_display_name": {i.DisplayName, claims.UserDisplayName},
		"user_avatar_url":   {i.AvatarURL, claims.UserAvatarURL},
	} {
		if claimed := trimClaim(pair[1]); claimed != "" && claimed != pair[0] {
			changes[column] = claimed
		}
	}
	return changes
}

func trimClaim(value string) string {
	return strings.TrimSpace(value)
}
