package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/model"
)

// NotificationStore persists inbox notifications and web push subscriptions.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]model.Notification, int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	ExpireSubscription(ctx context.Context, endpoint string) error
	SubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

func (s *gormStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification for %s: %w", n.UserID, err)
	}
	return nil
}

func (s *gormStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]model.Notification, int64, error) {
	page, limit = NormalizePage(page, limit)

	q := s.db.WithContext(ctx).Model(&model.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications for %s: %w", userID, err)
	}

	items := make([]model.Notification, 0, limit)
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications for %s: %w", userID, err)
	}
	return items, total, nil
}

// MarkRead flags one of the user's notifications as read.
func (s *gormStore) MarkRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("notification %s not found", id)
	}
	return nil
}

// MarkAllRead flags every unread notification of the user and returns how many changed.
func (s *gormStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read for %s: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread notifications for %s: %w", userID, err)
	}
	return count, nil
}

// SaveSubscription creates or refreshes a browser subscription. An endpoint
// registered by another user stays theirs until they delete it.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "push_subscriptions.user_id = excluded.user_id"}}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub)
	if res.Error != nil {
		return fmt.Errorf("failed to save subscription for %s: %w", sub.UserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Forbidden("subscription belongs to another user")
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	res := s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		Delete(&model.PushSubscription{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("subscription not found")
	}
	return nil
}

// ExpireSubscription removes a subscription the push service reported as gone.
func (s *gormStore) ExpireSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete expired subscription %s: %w", endpoint, err)
	}
	return nil
}

func (s *gormStore) SubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for %s: %w", userID, err)
	}
	return subs, nil
}
