package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
)

// Store persists Job rows transactionally on behalf of the pool. Grounded
// on pkg/controlplane/store/gorm.go's plain-gorm CRUD style.
type Store interface {
	CreateJob(ctx context.Context, desc Descriptor) (*catalog.Job, error)
	GetJob(ctx context.Context, jobID string) (*catalog.Job, error)
	FinishJob(ctx context.Context, jobID, finalState string) error
	SaveProgress(ctx context.Context, jobID string, progress []byte) error
	Checkpoint(ctx context.Context, jobID string, stateBlob []byte, nonCriticalErrors []byte) error
}

// GormStore implements Store over a library's gorm database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db as a Store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateJob(ctx context.Context, desc Descriptor) (*catalog.Job, error) {
	job := &catalog.Job{
		UUID:      uuid.NewString(),
		Name:      desc.Name,
		Kind:      desc.Kind,
		State:     catalog.JobStatePending,
		Resumable: desc.Resumable,
		Persisted: desc.Persisted,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (s *GormStore) GetJob(ctx context.Context, jobID string) (*catalog.Job, error) {
	var job catalog.Job
	if err := s.db.WithContext(ctx).Where("uuid = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) FinishJob(ctx context.Context, jobID, finalState string) error {
	now := time.Now()
	updates := map[string]any{"state": finalState, "finished_at": &now}
	return s.db.WithContext(ctx).Model(&catalog.Job{}).Where("uuid = ?", jobID).Updates(updates).Error
}

func (s *GormStore) SaveProgress(ctx context.Context, jobID string, progress []byte) error {
	return s.db.WithContext(ctx).Model(&catalog.Job{}).Where("uuid = ?", jobID).
		Update("progress", string(progress)).Error
}

func (s *GormStore) Checkpoint(ctx context.Context, jobID string, stateBlob []byte, nonCriticalErrors []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"non_critical_errors": string(nonCriticalErrors),
			"state":               catalog.JobStateRunning,
		}
		if stateBlob != nil {
			updates["checkpoint_blob"] = stateBlob
		}
		return tx.Model(&catalog.Job{}).Where("uuid = ?", jobID).Updates(updates).Error
	})
}
