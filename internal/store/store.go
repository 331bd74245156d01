package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/model"
)

// ReservationStore is the durable keyed storage of reservations.
type ReservationStore interface {
	Create(ctx context.Context, r *model.Reservation, history *model.ReservationHistory) error
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	ListByParty(ctx context.Context, partyID string, role model.Role, f Filter, page, limit int) (Page, error)
	Update(ctx context.Context, id string, patch Patch, expectedVersion int64) (*model.Reservation, error)
	History(ctx context.Context, id string) ([]model.ReservationHistory, error)
	CountByStatus(ctx context.Context, partyID string, role model.Role) (map[model.Status]int64, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	Delete(ctx context.Context, id string) error
}

// Store groups every persistence concern of the service.
type Store interface {
	ReservationStore
	NotificationStore
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Create inserts a new reservation and its creation history row in one transaction.
func (s *gormStore) Create(ctx context.Context, r *model.Reservation, history *model.ReservationHistory) error {
	if r.Version == 0 {
		r.Version = 1
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		if history != nil {
			history.ReservationID = r.ID
			history.Version = r.Version
			if err := tx.Create(history).Error; err != nil {
				return fmt.Errorf("failed to record history for reservation %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// GetByID returns the reservation with the given id.
func (s *gormStore) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("reservation %s not found", id)
		}
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return &r, nil
}

// ListByParty returns one page of reservations where partyID is the client,
// the artist, or either when role is empty.
func (s *gormStore) ListByParty(ctx context.Context, partyID string, role model.Role, f Filter, page, limit int) (Page, error) {
	page, limit = NormalizePage(page, limit)

	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Reservation{})
		switch role {
		case model.RoleClient:
			q = q.Where("client_id = ?", partyID)
		case model.RoleArtist:
			q = q.Where("artist_id = ?", partyID)
		default:
			q = q.Where("(client_id = ? OR artist_id = ?)", partyID, partyID)
		}
		return applyFilter(q, f)
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return Page{}, fmt.Errorf("failed to count reservations for %s: %w", partyID, err)
	}

	items := make([]model.Reservation, 0, limit)
	if err := query().
		Order("created_at DESC").
		Order("id").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error; err != nil {
		return Page{}, fmt.Errorf("failed to list reservations for %s: %w", partyID, err)
	}

	return Page{Items: items, Page: page, Limit: limit, Total: total}, nil
}

func applyFilter(q *gorm.DB, f Filter) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at < ?", f.To.UTC())
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(project_title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(message) LIKE ?)", like, like, like)
	}
	return q
}

// Update writes patch only if the stored version still equals expectedVersion.
// The version is incremented by one on success. A missing row yields NotFound,
// a version mismatch yields Conflict.
func (s *gormStore) Update(ctx context.Context, id string, patch Patch, expectedVersion int64) (*model.Reservation, error) {
	var updated model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := patch.columns()
		cols["version"] = expectedVersion + 1

		res := tx.Model(&model.Reservation{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(cols)
		if res.Error != nil {
			return fmt.Errorf("failed to update reservation %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Reservation{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check reservation %s: %w", id, err)
			}
			if count == 0 {
				return apperr.NotFound("reservation %s not found", id)
			}
			return apperr.Conflict("reservation %s was modified concurrently; reload and retry", id)
		}

		if patch.History != nil {
			entry := *patch.History
			entry.ReservationID = id
			entry.Version = expectedVersion + 1
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("failed to record history for reservation %s: %w", id, err)
			}
		}

		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// History returns every recorded write for a reservation, oldest first.
func (s *gormStore) History(ctx context.Context, id string) ([]model.ReservationHistory, error) {
	var entries []model.ReservationHistory
	if err := s.db.WithContext(ctx).
		Where("reservation_id = ?", id).
		Order("version ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for reservation %s: %w", id, err)
	}
	return entries, nil
}

// CountByStatus aggregates the party's reservations per status. Every known
// status is present in the result, zero when no reservation matches.
func (s *gormStore) CountByStatus(ctx context.Context, partyID string, role model.Role) (map[model.Status]int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Reservation{})
	switch role {
	case model.RoleClient:
		q = q.Where("client_id = ?", partyID)
	case model.RoleArtist:
		q = q.Where("artist_id = ?", partyID)
	default:
		q = q.Where("(client_id = ? OR artist_id = ?)", partyID, partyID)
	}

	var rows []StatusCount
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate reservations for %s: %w", partyID, err)
	}

	counts := make(map[model.Status]int64, len(model.Statuses))
	for _, st := range model.Statuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DueReminders returns confirmed reservations with an appointment in [from, to)
// for which no reminder has been sent yet.
func (s *gormStore) DueReminders(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	var due []model.Reservation
	if err := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND appointment_at >= ? AND appointment_at < ?",
			model.StatusConfirmed, from.UTC(), to.UTC()).
		Order("appointment_at ASC").
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return due, nil
}

// Delete soft-deletes a reservation. It is an administrative override, not a
// lifecycle state.
func (s *gormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Reservation{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete reservation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("reservation %s not found", id)
	}
	return nil
}
