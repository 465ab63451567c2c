package storage

import (
	"context"
	"time"

	"github.com/yourorg/portfolio-cms/internal/model"

	"github.com/google/uuid"
)

// SimulatedUploader pretends to transfer in fixed steps. Nothing leaves the process.
type SimulatedUploader struct {
	steps     int
	stepDelay time.Duration
}

// NewSimulatedUploader creates an uploader reporting steps+1 progress events
func NewSimulatedUploader(steps int, stepDelay time.Duration) *SimulatedUploader {
	if steps <= 0 {
		steps = 10
	}
	return &SimulatedUploader{steps: steps, stepDelay: stepDelay}
}

// Transfer emits progress for i = 0..steps, stepDelay apart
func (s *SimulatedUploader) Transfer(ctx context.Context, file model.File, _ string, onProgress ProgressFunc) (*RemoteAsset, error) {
	total := int64(len(file.Data))

	for i := 0; i <= s.steps; i++ {
		emit(onProgress, total*int64(i)/int64(s.steps), total)

		if i == s.steps {
			break
		}

		timer := time.NewTimer(s.stepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &RemoteAsset{ID: uuid.New().String()}, nil
}
