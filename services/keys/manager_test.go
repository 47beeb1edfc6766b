package keys

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/testutils"
	"gorm.io/gorm"
)

func testKeyConfig() config.KeyConfig {
	return testutils.GetTestConfig().Keys
}

func newTestManager(t *testing.T, db *gorm.DB, cfg config.KeyConfig, clk clock.Clock) *Manager {
	t.Helper()

	logger, _ := testutils.NewTestLogger()
	m, err := NewManager(db, cfg, logger, clk)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func setupManager(t *testing.T) (*Manager, *gorm.DB, *clock.Fake) {
	t.Helper()

	db := testutils.SetupTestDB(t, &SigningKey{})
	clk := testutils.FakeClock()
	m := newTestManager(t, db, testKeyConfig(), clk)
	require.NoError(t, m.Initialize(context.Background()))
	return m, db, clk
}

func keyStates(t *testing.T, db *gorm.DB) map[string]KeyState {
	t.Helper()

	var records []SigningKey
	require.NoError(t, db.Find(&records).Error)

	states := make(map[string]KeyState, len(records))
	for _, r := range records {
		states[r.Kid] = r.State
	}
	return states
}

func jwksKids(jwks JWKS) []string {
	kids := make([]string, 0, len(jwks.Keys))
	for _, k := range jwks.Keys {
		kids = append(kids, k.Kid)
	}
	return kids
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, testKeyConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testKeyConfig()
	cfg.EncryptionSecret = "not-hex"
	_, err = NewManager(testutils.SetupTestDB(t), cfg, nil, nil)
	assert.Error(t, err)
}

func TestManager_Initialize(t *testing.T) {
	m, db, clk := setupManager(t)

	kid := m.ActiveKid()
	require.NotEmpty(t, kid)
	assert.Equal(t, map[string]KeyState{kid: StateActive}, keyStates(t, db))

	key, err := m.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, kid, key.Kid)
	assert.Equal(t, 2048, key.Private.N.BitLen())

	t.Run("second instance loads the existing key", func(t *testing.T) {
		other := newTestManager(t, db, testKeyConfig(), clk)
		require.NoError(t, other.Initialize(context.Background()))

		assert.Equal(t, kid, other.ActiveKid())
		assert.Len(t, keyStates(t, db), 1)
	})
}

func TestManager_SigningKeyBeforeInitialize(t *testing.T) {
	m := newTestManager(t, testutils.SetupTestDB(t, &SigningKey{}), testKeyConfig(), testutils.FakeClock())

	_, err := m.SigningKey()
	assert.ErrorIs(t, err, ErrNoActiveKey)

	_, err = m.Rotate(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveKey)

	t.Run("empty jwks is not an error", func(t *testing.T) {
		body, err := json.Marshal(m.PublicJWKS())
		require.NoError(t, err)
		assert.JSONEq(t, `{"keys":[]}`, string(body))
	})
}

func TestManager_Rotate(t *testing.T) {
	m, db, _ := setupManager(t)
	ctx := context.Background()

	oldKid := m.ActiveKid()

	newKid, err := m.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldKid, newKid)

	assert.Equal(t, map[string]KeyState{oldKid: StateNext, newKid: StateActive}, keyStates(t, db))

	signing, err := m.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, newKid, signing.Kid)

	t.Run("jwks publishes active then next", func(t *testing.T) {
		assert.Equal(t, []string{newKid, oldKid}, jwksKids(m.PublicJWKS()))
	})

	t.Run("previous key still verifies", func(t *testing.T) {
		key, err := m.VerificationKey(ctx, oldKid)
		require.NoError(t, err)
		assert.Equal(t, StateNext, key.State)
		assert.Nil(t, key.Private)
	})
}

func TestManager_ConcurrentRotationByAnotherInstance(t *testing.T) {
	m1, db, clk := setupManager(t)
	ctx := context.Background()

	m2 := newTestManager(t, db, testKeyConfig(), clk)
	require.NoError(t, m2.Initialize(ctx))
	original := m1.ActiveKid()

	rotated, err := m1.Rotate(ctx)
	require.NoError(t, err)

	// m2 still believes the original key is active
	kid, err := m2.Rotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated, kid)
	assert.Equal(t, rotated, m2.ActiveKid())

	assert.Equal(t, map[string]KeyState{original: StateNext, rotated: StateActive}, keyStates(t, db))
}

func TestManager_VerificationKeyReloadsUnknownKid(t *testing.T) {
	m1, db, clk := setupManager(t)
	ctx := context.Background()

	m2 := newTestManager(t, db, testKeyConfig(), clk)
	require.NoError(t, m2.Initialize(ctx))

	rotated, err := m1.Rotate(ctx)
	require.NoError(t, err)

	key, err := m2.VerificationKey(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, rotated, key.Kid)
	assert.Equal(t, rotated, m2.ActiveKid())

	_, err = m2.VerificationKey(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestManager_UnknownKidReloadIsThrottled(t *testing.T) {
	m1, db, clk := setupManager(t)
	ctx := context.Background()

	m2 := newTestManager(t, db, testKeyConfig(), clk)
	require.NoError(t, m2.Initialize(ctx))

	_, err := m2.VerificationKey(ctx, "random-kid-1")
	assert.ErrorIs(t, err, ErrUnknownKey)

	rotated, err := m1.Rotate(ctx)
	require.NoError(t, err)

	_, err = m2.VerificationKey(ctx, rotated)
	assert.ErrorIs(t, err, ErrUnknownKey, "no second reload inside the interval")

	clk.Advance(minReloadInterval)
	key, err := m2.VerificationKey(ctx, rotated)
	require.NoError(t, err)
	assert.Equal(t, rotated, key.Kid)
}

func TestManager_CheckAge(t *testing.T) {
	m, _, clk := setupManager(t)
	ctx := context.Background()
	original := m.ActiveKid()

	clk.Advance(89 * 24 * time.Hour)
	rotated, err := m.CheckAge(ctx)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, original, m.ActiveKid())

	clk.Advance(24 * time.Hour)
	rotated, err = m.CheckAge(ctx)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NotEqual(t, original, m.ActiveKid())
}

func TestManager_SigningKeyRotatesLazily(t *testing.T) {
	m, _, clk := setupManager(t)
	original := m.ActiveKid()

	clk.Advance(91 * 24 * time.Hour)

	key, err := m.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, original, key.Kid, "current key signs until rotation completes")

	// Stop waits for the background rotation
	m.Stop()
	assert.NotEqual(t, original, m.ActiveKid())

	_, err = m.VerificationKey(context.Background(), original)
	assert.NoError(t, err)
}

func TestManager_RetireExpired(t *testing.T) {
	m, db, clk := setupManager(t)
	ctx := context.Background()

	oldKid := m.ActiveKid()
	newKid, err := m.Rotate(ctx)
	require.NoError(t, err)

	clk.Advance(29 * 24 * time.Hour)
	retired, deleted, err := m.RetireExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, retired)
	assert.Zero(t, deleted)

	clk.Advance(24 * time.Hour)
	retired, _, err = m.RetireExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), retired)

	assert.Equal(t, map[string]KeyState{oldKid: StateRetired, newKid: StateActive}, keyStates(t, db))
	assert.Equal(t, []string{newKid}, jwksKids(m.PublicJWKS()))

	_, err = m.VerificationKey(ctx, oldKid)
	assert.ErrorIs(t, err, ErrUnknownKey)

	t.Run("retired keys are deleted after retention", func(t *testing.T) {
		clk.Advance(24 * time.Hour)
		_, deleted, err := m.RetireExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
		assert.Equal(t, map[string]KeyState{newKid: StateActive}, keyStates(t, db))
	})
}

func TestManager_EncryptionAtRest(t *testing.T) {
	db := testutils.SetupTestDB(t, &SigningKey{})
	clk := testutils.FakeClock()
	ctx := context.Background()

	cfg := testKeyConfig()
	cfg.EncryptionSecret = strings.Repeat("0f", 32)

	m := newTestManager(t, db, cfg, clk)
	require.NoError(t, m.Initialize(ctx))

	var record SigningKey
	require.NoError(t, db.First(&record).Error)
	assert.True(t, record.Encrypted)
	assert.NotContains(t, record.PrivateKey, "PRIVATE KEY")
	assert.Contains(t, record.PublicKey, "PUBLIC KEY")

	t.Run("same secret loads", func(t *testing.T) {
		other := newTestManager(t, db, cfg, clk)
		require.NoError(t, other.Initialize(ctx))
		assert.Equal(t, m.ActiveKid(), other.ActiveKid())
	})

	t.Run("missing secret fails", func(t *testing.T) {
		other := newTestManager(t, db, testKeyConfig(), clk)
		assert.ErrorIs(t, other.Initialize(ctx), ErrKeyEncrypted)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		wrong := cfg
		wrong.EncryptionSecret = strings.Repeat("a1", 32)
		other := newTestManager(t, db, wrong, clk)
		assert.ErrorIs(t, other.Initialize(ctx), ErrDecryptFailed)
	})
}

func TestJWK(t *testing.T) {
	m, _, _ := setupManager(t)

	jwks := m.PublicJWKS()
	require.Len(t, jwks.Keys, 1)

	jwk := jwks.Keys[0]
	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "sig", jwk.Use)
	assert.Equal(t, "RS256", jwk.Alg)
	assert.Equal(t, "AQAB", jwk.E)
	assert.NotContains(t, jwk.N, "=")

	signing, err := m.SigningKey()
	require.NoError(t, err)

	assert.True(t, signing.Public.Equal(jwkPublicKey(t, jwk)))
}

func jwkPublicKey(t *testing.T, jwk JWK) *rsa.PublicKey {
	t.Helper()

	n, err := base64.RawURLEncoding.DecodeString(jwk.N)
	require.NoError(t, err)
	e, err := base64.RawURLEncoding.DecodeString(jwk.E)
	require.NoError(t, err)

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}
}

func TestEncryptDecrypt(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))

	sealed, err := encrypt("hello", secret)
	require.NoError(t, err)

	opened, err := decrypt(sealed, secret)
	require.NoError(t, err)
	assert.Equal(t, "hello", opened)

	tampered := sealed[:len(sealed)-2] + "00"
	if strings.HasSuffix(sealed, "00") {
		tampered = sealed[:len(sealed)-2] + "ff"
	}
	_, err = decrypt(tampered, secret)
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = decrypt("zz", secret)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}
