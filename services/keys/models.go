package keys

import (
	"crypto/rsa"
	"time"
)

type KeyState string

const (
	StateActive  KeyState = "active"
	StateNext    KeyState = "next"
	StateRetired KeyState = "retired"
)

const AlgorithmRS256 = "RS256"

// SigningKey is the durable form of a key pair. PrivateKey holds a PKCS#8
// PEM block, AES-GCM encrypted and hex encoded when Encrypted is set.
type SigningKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Kid        string     `gorm:"uniqueIndex;size:64;not null" json:"kid"`
	Algorithm  string     `gorm:"size:16;not null" json:"alg"`
	PrivateKey string     `gorm:"type:text;not null" json:"-"`
	PublicKey  string     `gorm:"type:text;not null" json:"public_key"`
	Encrypted  bool       `gorm:"not null;default:false" json:"encrypted"`
	State      KeyState   `gorm:"size:16;index;not null" json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
	RetiredAt  *time.Time `json:"retired_at,omitempty"`
}

func (SigningKey) TableName() string {
	return "signing_keys"
}

// Key is the parsed, in-memory view of a usable SigningKey. Private is only
// populated for the active key.
type Key struct {
	Kid       string
	State     KeyState
	CreatedAt time.Time
	RotatedAt *time.Time
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
}

// Age reports how long the key has existed at now.
func (k Key) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}
