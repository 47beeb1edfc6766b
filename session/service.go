// Package session persists login sessions so that every token pair ever
// handed out can be found again by user, and revoked in bulk.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type Service interface {
	Create(ctx context.Context, s *Session) error

	GetByRefreshJTI(ctx context.Context, jti string) (*Session, error)

	// Rotate moves the active session holding oldRefreshJTI to a new pair.
	Rotate(ctx context.Context, oldRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) error

	ListActive(ctx context.Context, userID string) ([]Session, error)

	// RevokeAllForUser deactivates every active session of userID and
	// returns them as they were before revocation.
	RevokeAllForUser(ctx context.Context, userID, reason string) ([]Session, error)

	Revoke(ctx context.Context, id, reason string) (*Session, error)

	// CleanupExpired deletes sessions that expired or were revoked more
	// than retention ago.
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)

	StartCleanupWorker(interval, retention time.Duration)

	Stop()
}

type sessionService struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *logging.Service

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(db *gorm.DB, logger *logging.Service, c clock.Clock) Service {
	return &sessionService{
		db:     db,
		clock:  clock.OrReal(c),
		logger: logger.Named("session"),
		stop:   make(chan struct{}),
	}
}

func (s *sessionService) Create(ctx context.Context, sess *Session) error {
	now := s.clock.Now()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.DeviceName == "" {
		sess.DeviceName = DeviceName(sess.UserAgent)
	}
	sess.CreatedAt = now
	sess.LastUsed = now
	sess.IsActive = true

	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("session created",
		logging.SessionID(sess.ID),
		logging.UserID(sess.UserID),
		logging.FamilyID(sess.FamilyID))
	return nil
}

func (s *sessionService) GetByRefreshJTI(ctx context.Context, jti string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).Where("refresh_token_jti = ?", jti).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionService) Rotate(ctx context.Context, oldRefreshJTI, accessJTI, refreshJTI string, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Session{}).
		Where("refresh_token_jti = ? AND is_active = ?", oldRefreshJTI, true).
		Updates(map[string]any{
			"access_token_jti":  accessJTI,
			"refresh_token_jti": refreshJTI,
			"expires_at":        expiresAt,
			"last_used":         s.clock.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to rotate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *sessionService) ListActive(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, s.clock.Now()).
		Order("last_used DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *sessionService) RevokeAllForUser(ctx context.Context, userID, reason string) ([]Session, error) {
	var sessions []Session
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND is_active = ?", userID, true).Find(&sessions).Error; err != nil {
			return err
		}
		if len(sessions) == 0 {
			return nil
		}
		return tx.Model(&Session{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Updates(map[string]any{
				"is_active":      false,
				"revoked_at":     now,
				"revoked_reason": reason,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.logger.Info("sessions revoked for user",
		logging.UserID(userID),
		logging.Reason(reason),
		zap.Int("count", len(sessions)))
	return sessions, nil
}

func (s *sessionService) Revoke(ctx context.Context, id, reason string) (*Session, error) {
	var sess Session
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&sess).Error; err != nil {
			return err
		}
		if !sess.IsActive {
			return nil
		}
		return tx.Model(&Session{}).Where("id = ?", id).Updates(map[string]any{
			"is_active":      false,
			"revoked_at":     now,
			"revoked_reason": reason,
		}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke session: %w", err)
	}

	s.logger.Info("session revoked",
		logging.SessionID(id),
		logging.UserID(sess.UserID),
		logging.Reason(reason))
	return &sess, nil
}

func (s *sessionService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)

	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR (is_active = ? AND revoked_at < ?)", cutoff, false, cutoff).
		Delete(&Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired sessions removed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *sessionService) StartCleanupWorker(interval, retention time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.CleanupExpired(context.Background(), retention); err != nil {
					s.logger.Error("session cleanup failed", zap.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *sessionService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
