package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// SaveNotification assigns an ID and timestamp when missing and stores n.
func (s *gormStore) SaveNotification(ctx context.Context, n *entities.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return dbError(s.db.WithContext(ctx).Create(n).Error, "save notification")
}

// ListNotifications returns a user's notifications, newest first.
func (s *gormStore) ListNotifications(ctx context.Context, userID uint, unreadOnly bool) ([]entities.Notification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var out []entities.Notification
	err := q.Order("created_at DESC").Find(&out).Error
	return out, dbError(err, "list notifications")
}

func (s *gormStore) MarkNotificationRead(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&entities.Notification{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return dbError(res.Error, "mark notification read")
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "notification", id)
	}
	return nil
}
