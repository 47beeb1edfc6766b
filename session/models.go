package session

import (
	"time"
)

const (
	ReasonLogout       = "logout"
	ReasonUserRevoked  = "user_revoked"
	ReasonRefreshReuse = "refresh_token_reuse"
)

// Session is the durable record of one login: the token pair currently
// issued for it and where it came from. Refreshing a token re-points the
// session at the new pair rather than creating a new row.
type Session struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	UserID          string     `json:"user_id" gorm:"size:255;not null;index"`
	TenantID        string     `json:"tenant_id,omitempty" gorm:"size:255;index"`
	FamilyID        string     `json:"family_id" gorm:"size:36;not null;index"`
	AccessTokenJTI  string     `json:"-" gorm:"column:access_token_jti;size:36;index"`
	RefreshTokenJTI string     `json:"-" gorm:"column:refresh_token_jti;size:36;uniqueIndex"`
	IPAddress       string     `json:"ip_address" gorm:"size:45"`
	UserAgent       string     `json:"user_agent" gorm:"size:500"`
	DeviceName      string     `json:"device_name" gorm:"size:255"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsed        time.Time  `json:"last_used"`
	ExpiresAt       time.Time  `json:"expires_at" gorm:"index"`
	IsActive        bool       `json:"is_active" gorm:"not null;default:true;index"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedReason   string     `json:"revoked_reason,omitempty" gorm:"size:64"`
}

func (Session) TableName() string {
	return "sessions"
}

// Info is what the caller knows about the client a session is created for.
type Info struct {
	IPAddress  string
	UserAgent  string
	DeviceName string
}
