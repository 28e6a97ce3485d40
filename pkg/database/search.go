package database

import (
	"context"
	"strings"
)

// SearchRecordings finds catalog recordings matching species and/or country
// (AND logic, case-insensitive). Empty filters match everything.
func SearchRecordings(ctx context.Context, species, country string, limit, offset int) ([]Recording, int64, error) {
	q := DB.WithContext(ctx).Model(&Recording{})

	if s := strings.TrimSpace(species); s != "" {
		q = q.Where("species ILIKE ?", "%"+s+"%")
	}
	if c := strings.TrimSpace(country); c != "" {
		q = q.Where("country ILIKE ?", "%"+c+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []Recording
	if err := q.
		Order("class_id, id").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
