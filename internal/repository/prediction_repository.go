package repository

import (
	"fmt"

	"gorm.io/gorm"

	"mnist-serve/internal/model"
)

type PredictionRepository struct {
	db *gorm.DB
}

func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

func (r *PredictionRepository) Create(record *model.PredictionRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create prediction record failed: %w", err)
	}
	return nil
}

func (r *PredictionRepository) ListRecent(limit int) ([]model.PredictionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []model.PredictionRecord
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list prediction records failed: %w", err)
	}
	return records, nil
}

func (r *PredictionRepository) CountByDigit() (map[int]int64, error) {
	type row struct {
		Digit int
		Total int64
	}
	var rows []row
	if err := r.db.Model(&model.PredictionRecord{}).
		Select("digit, count(*) as total").
		Group("digit").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count predictions by digit failed: %w", err)
	}

	counts := make(map[int]int64, len(rows))
	for _, item := range rows {
		counts[item.Digit] = item.Total
	}
	return counts, nil
}
