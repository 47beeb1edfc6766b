// Package keys owns the RSA key pairs tokens are signed with. Keys are
// persisted through gorm so that every instance of the service signs with
// the same key and publishes the same JWKS.
//
// A key moves active -> next -> retired. Only the active key signs. Next
// keys still verify until the grace window since their demotion has
// passed, which must cover the longest token lifetime.
package keys

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrNoActiveKey = errors.New("no active signing key")
	ErrUnknownKey  = errors.New("unknown signing key")
)

const backgroundRotateTimeout = 2 * time.Minute

// minReloadInterval bounds how often an unknown kid may send the manager back
// to storage.
const minReloadInterval = 5 * time.Second

type Manager struct {
	db     *gorm.DB
	cfg    config.KeyConfig
	clock  clock.Clock
	logger *logging.Service
	secret []byte

	mu     sync.RWMutex
	active *Key
	keys   map[string]*Key

	rotateMu sync.Mutex
	rotating atomic.Bool
	reloads  singleflight.Group

	reloadMu   sync.Mutex
	lastReload time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(db *gorm.DB, cfg config.KeyConfig, logger *logging.Service, c clock.Clock) (*Manager, error) {
	if db == nil {
		return nil, errors.New("keys: database is required")
	}

	var secret []byte
	if cfg.EncryptionSecret != "" {
		raw, err := hex.DecodeString(cfg.EncryptionSecret)
		if err != nil || len(raw) != 32 {
			return nil, errors.New("keys: KEY_ENCRYPTION_SECRET must be 32 bytes encoded as hex")
		}
		secret = raw
	}

	return &Manager{
		db:     db,
		cfg:    cfg,
		clock:  clock.OrReal(c),
		logger: logger.Named("keys"),
		secret: secret,
		keys:   make(map[string]*Key),
		stop:   make(chan struct{}),
	}, nil
}

// Initialize loads the newest non-retired keys from storage and creates the
// first active key when there is none.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.load(ctx); err != nil {
		return err
	}

	if m.activeKey() != nil {
		return nil
	}

	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	record, err := m.newRecord()
	if err != nil {
		return err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&SigningKey{}).Where("state = ?", StateActive).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			// another instance got there first
			return nil
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return fmt.Errorf("failed to persist initial signing key: %w", err)
	}

	if err := m.load(ctx); err != nil {
		return err
	}
	if m.activeKey() == nil {
		return ErrNoActiveKey
	}

	m.logger.Info("signing key initialized", logging.Kid(m.activeKey().Kid))
	return nil
}

// Rotate creates a new active key and demotes the current one to next. The
// new key is committed to storage before it is used for signing. If another
// instance rotated first, the current state is reloaded instead and its
// active kid returned.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	return m.rotateLocked(ctx)
}

func (m *Manager) rotateLocked(ctx context.Context) (string, error) {
	current := m.activeKey()
	if current == nil {
		return "", ErrNoActiveKey
	}

	// key generation is slow; keep it outside the transaction
	record, err := m.newRecord()
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	conflict := false

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SigningKey{}).
			Where("kid = ? AND state = ?", current.Kid, StateActive).
			Updates(map[string]any{"state": StateNext, "rotated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			conflict = true
			return nil
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist rotated signing key: %w", err)
	}

	if err := m.load(ctx); err != nil {
		return "", err
	}

	active := m.activeKey()
	if active == nil {
		return "", ErrNoActiveKey
	}

	if conflict {
		m.logger.Info("signing key already rotated by another instance",
			zap.String("previous_kid", current.Kid),
			logging.Kid(active.Kid))
		return active.Kid, nil
	}

	m.logger.Info("signing key rotated",
		zap.String("previous_kid", current.Kid),
		logging.Kid(active.Kid))
	return active.Kid, nil
}

// CheckAge rotates the active key when it is older than the rotation
// interval, then retires demoted keys past their grace window.
func (m *Manager) CheckAge(ctx context.Context) (bool, error) {
	rotated, err := m.rotateIfDue(ctx)
	if err != nil {
		return false, err
	}

	if _, _, err := m.RetireExpired(ctx); err != nil {
		return rotated, err
	}
	return rotated, nil
}

func (m *Manager) rotateIfDue(ctx context.Context) (bool, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	active := m.activeKey()
	if active == nil || !m.due(active) {
		return false, nil
	}

	m.logger.Info("signing key exceeded rotation interval",
		logging.Kid(active.Kid),
		zap.Duration("age", active.Age(m.clock.Now())))

	if _, err := m.rotateLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RetireExpired marks next keys whose grace window has passed as retired,
// and deletes retired keys older than the retention period.
func (m *Manager) RetireExpired(ctx context.Context) (retired int64, deleted int64, err error) {
	now := m.clock.Now()
	db := m.db.WithContext(ctx)

	result := db.Model(&SigningKey{}).
		Where("state = ? AND rotated_at <= ?", StateNext, now.Add(-m.cfg.RotationGrace)).
		Updates(map[string]any{"state": StateRetired, "retired_at": now})
	if result.Error != nil {
		return 0, 0, fmt.Errorf("failed to retire signing keys: %w", result.Error)
	}
	retired = result.RowsAffected

	result = db.Where("state = ? AND retired_at <= ?", StateRetired, now.Add(-m.cfg.RetiredRetention)).
		Delete(&SigningKey{})
	if result.Error != nil {
		return retired, 0, fmt.Errorf("failed to delete retired signing keys: %w", result.Error)
	}
	deleted = result.RowsAffected

	if retired > 0 || deleted > 0 {
		m.logger.Info("signing keys retired",
			zap.Int64("retired", retired),
			zap.Int64("deleted", deleted))
	}

	if retired > 0 {
		if err := m.load(ctx); err != nil {
			return retired, deleted, err
		}
	}
	return retired, deleted, nil
}

// SigningKey returns the key new tokens must be signed with. When the key
// has outlived the rotation interval a rotation is started in the
// background; the current key keeps signing until it completes.
func (m *Manager) SigningKey() (Key, error) {
	active := m.activeKey()
	if active == nil {
		return Key{}, ErrNoActiveKey
	}

	if m.due(active) && m.rotating.CompareAndSwap(false, true) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.rotating.Store(false)

			ctx, cancel := context.WithTimeout(context.Background(), backgroundRotateTimeout)
			defer cancel()

			if _, err := m.rotateIfDue(ctx); err != nil {
				m.logger.Error("background key rotation failed", zap.Error(err))
			}
		}()
	}

	return *active, nil
}

// VerificationKey returns the public key for kid if it is active or next. A
// kid this instance has not seen triggers one reload from storage, shared
// by all concurrent callers, so rotations made by other instances are
// picked up. Reloads happen at most once per minReloadInterval.
func (m *Manager) VerificationKey(ctx context.Context, kid string) (*Key, error) {
	if key := m.lookup(kid); key != nil {
		return key, nil
	}

	_, err, _ := m.reloads.Do("reload", func() (any, error) {
		if !m.reloadDue() {
			return nil, nil
		}
		return nil, m.load(ctx)
	})
	if err != nil {
		return nil, err
	}

	if key := m.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

func (m *Manager) reloadDue() bool {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	now := m.clock.Now()
	if !m.lastReload.IsZero() && now.Sub(m.lastReload) < minReloadInterval {
		return false
	}
	m.lastReload = now
	return true
}

// PublicJWKS lists every key that may still verify a token, active first.
func (m *Manager) PublicJWKS() JWKS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Key, 0, len(m.keys))
	for _, k := range m.keys {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].State != list[j].State {
			return list[i].State == StateActive
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	jwks := JWKS{Keys: make([]JWK, 0, len(list))}
	for _, k := range list {
		jwks.Keys = append(jwks.Keys, publicJWK(k.Kid, k.Public))
	}
	return jwks
}

// ActiveKid returns the kid of the signing key, or "" before Initialize.
func (m *Manager) ActiveKid() string {
	if active := m.activeKey(); active != nil {
		return active.Kid
	}
	return ""
}

// StartRotationWorker runs CheckAge every KEY_CHECK_INTERVAL until Stop.
func (m *Manager) StartRotationWorker() {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), backgroundRotateTimeout)
				if _, err := m.CheckAge(ctx); err != nil {
					m.logger.Error("scheduled key check failed", zap.Error(err))
				}
				cancel()
			case <-m.stop:
				return
			}
		}
	}()

	m.logger.Info("key rotation worker started", zap.Duration("interval", interval))
}

// Stop ends the rotation worker and waits for any background rotation.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Manager) due(k *Key) bool {
	return k.Age(m.clock.Now()) >= m.cfg.RotationInterval()
}

func (m *Manager) activeKey() *Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) lookup(kid string) *Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[kid]
}

func (m *Manager) load(ctx context.Context) error {
	var records []SigningKey
	err := m.db.WithContext(ctx).
		Where("state IN ?", []string{string(StateActive), string(StateNext)}).
		Order("created_at desc").
		Find(&records).Error
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	loaded := make(map[string]*Key, len(records))
	var active *Key

	for i := range records {
		key, err := m.parse(&records[i])
		if err != nil {
			return fmt.Errorf("signing key %s: %w", records[i].Kid, err)
		}
		loaded[key.Kid] = key
		// newest active wins if two instances created one concurrently
		if key.State == StateActive && active == nil {
			active = key
		}
	}

	m.mu.Lock()
	m.keys = loaded
	m.active = active
	m.mu.Unlock()

	return nil
}

func (m *Manager) parse(record *SigningKey) (*Key, error) {
	public, err := decodePublicKey(record.PublicKey)
	if err != nil {
		return nil, err
	}

	key := &Key{
		Kid:       record.Kid,
		State:     record.State,
		CreatedAt: record.CreatedAt,
		RotatedAt: record.RotatedAt,
		Public:    public,
	}

	if record.State != StateActive {
		return key, nil
	}

	privatePEM := record.PrivateKey
	if record.Encrypted {
		if m.secret == nil {
			return nil, ErrKeyEncrypted
		}
		if privatePEM, err = decrypt(record.PrivateKey, m.secret); err != nil {
			return nil, err
		}
	}

	if key.Private, err = decodePrivateKey(privatePEM); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) newRecord() (*SigningKey, error) {
	private, err := generateKeyPair(m.cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	privatePEM, err := encodePrivateKey(private)
	if err != nil {
		return nil, err
	}
	publicPEM, err := encodePublicKey(&private.PublicKey)
	if err != nil {
		return nil, err
	}

	record := &SigningKey{
		Kid:        uuid.NewString(),
		Algorithm:  AlgorithmRS256,
		PrivateKey: privatePEM,
		PublicKey:  publicPEM,
		State:      StateActive,
		CreatedAt:  m.clock.Now(),
	}

	if m.secret != nil {
		if record.PrivateKey, err = encrypt(privatePEM, m.secret); err != nil {
			return nil, fmt.Errorf("failed to encrypt signing key: %w", err)
		}
		record.Encrypted = true
	}

	return record, nil
}
