package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

type AdmissionLogRepository struct {
	db *storage.Database
}

func NewAdmissionLogRepository(db *storage.Database) *AdmissionLogRepository {
	return &AdmissionLogRepository{db: db}
}

// Inserts multiple admission logs in one statement
func (r *AdmissionLogRepository) CreateBatch(ctx context.Context, logs []models.AdmissionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves logs within a time range, newest first
func (r *AdmissionLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]models.AdmissionLog, error) {
	var logs []models.AdmissionLog

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Find(&logs).Error

	return logs, err
}

// Counts logs per verdict since the given time
func (r *AdmissionLogRepository) CountByVerdict(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Verdict string
		Count   int64
	}

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("verdict, COUNT(*) as count").
		Where("timestamp >= ?", since).
		Group("verdict").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Verdict] = row.Count
	}
	return counts, nil
}

// Deletes logs older than the specified time
func (r *AdmissionLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AdmissionLog{})

	return result.RowsAffected, result.Error
}
