package repository

import (
	"context"

	"github.com/scanium/enricher/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRepository appends finished enrichment runs to the audit log.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record stores the summary of a terminal job. Recording the same request
// twice keeps the first row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: terminal job snapshot.
// Returns:
//   - error: non-nil if the insert fails.
func (r *RunRepository) Record(ctx context.Context, job *domain.EnrichmentJob) error {
	run := domain.NewEnrichmentRun(job)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(run).Error
}

// GetByRequestID retrieves a recorded run.
func (r *RunRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.EnrichmentRun, error) {
	var run domain.EnrichmentRun
	if err := r.db.WithContext(ctx).First(&run, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// CountByStage returns how many recorded runs ended in each stage.
func (r *RunRepository) CountByStage(ctx context.Context) (map[domain.Stage]int64, error) {
	var rows []struct {
		FinalStage domain.Stage
		Count      int64
	}
	if err := r.db.WithContext(ctx).
		Model(&domain.EnrichmentRun{}).
		Select("final_stage, count(*) as count").
		Group("final_stage").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[domain.Stage]int64, len(rows))
	for _, row := range rows {
		counts[row.FinalStage] = row.Count
	}
	return counts, nil
}
