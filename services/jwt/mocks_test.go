package jwt_test

import (
	"context"

	"github.com/tech-arch1tect/tokenauth/services/keys"
)

type failingKeys struct{}

func (failingKeys) SigningKey() (keys.Key, error) {
	return keys.Key{}, keys.ErrNoActiveKey
}

func (failingKeys) VerificationKey(ctx context.Context, kid string) (*keys.Key, error) {
	return nil, keys.ErrUnknownKey
}
