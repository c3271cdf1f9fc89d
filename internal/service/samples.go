package service

import (
	"context"
	"strings"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/repository"
)

type SamplesService struct {
	sampleRepo repository.SampleRepo
}

func NewSamplesService(sampleRepo repository.SampleRepo) *SamplesService {
	return &SamplesService{sampleRepo: sampleRepo}
}

func (s *SamplesService) List(ctx context.Context, f SampleFilter) ([]rig.MeasurementSample, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, errInvalidTimeRange
	}
	return s.sampleRepo.List(ctx, strings.TrimSpace(f.RunID), from, to)
}
