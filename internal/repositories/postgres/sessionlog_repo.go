package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/denizyuce/callscribe/internal/models"
	"github.com/denizyuce/callscribe/internal/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionLogRepo interface {
	Create(ctx context.Context, row *models.SessionLog) error
	GetByID(ctx context.Context, id uint) (*models.SessionLog, error)
	GetByCallID(ctx context.Context, callID string) (*models.SessionLog, error)
	// FindRecentByPair returns the most recent log between the two users (in
	// either order) whose session timestamp falls inside around±window.
	FindRecentByPair(ctx context.Context, userA, userB string, around time.Time, window time.Duration) (*models.SessionLog, error)
	SaveTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error
	ListForUser(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error)
	Delete(ctx context.Context, id uint) error
}

type sessionLogRepo struct {
	db *gorm.DB
}

func NewSessionLogRepo(db *gorm.DB) SessionLogRepo {
	return &sessionLogRepo{db: db}
}

func (r *sessionLogRepo) Create(ctx context.Context, row *models.SessionLog) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *sessionLogRepo) GetByID(ctx context.Context, id uint) (*models.SessionLog, error) {
	var row models.SessionLog
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *sessionLogRepo) GetByCallID(ctx context.Context, callID string) (*models.SessionLog, error) {
	var row models.SessionLog
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *sessionLogRepo) FindRecentByPair(ctx context.Context, userA, userB string, around time.Time, window time.Duration) (*models.SessionLog, error) {
	var row models.SessionLog
	err := r.db.WithContext(ctx).
		Where("((user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?))", userA, userB, userB, userA).
		Where("session_time_stamp BETWEEN ? AND ?", around.Add(-window), around.Add(window)).
		Order("session_time_stamp DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *sessionLogRepo) SaveTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&models.SessionLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"transcript": transcript,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *sessionLogRepo) ListForUser(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error) {
	q := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID)

	if peerID != nil {
		q = q.Where("user1_id = ? OR user2_id = ?", *peerID, *peerID)
	}

	var rows []models.SessionLog
	err := q.Order("session_time_stamp DESC").Find(&rows).Error
	return rows, err
}

func (r *sessionLogRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.SessionLog{}, id).Error
}
