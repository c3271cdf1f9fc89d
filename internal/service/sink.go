package service

import (
	"context"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/repository"
)

const sinkWriteTimeout = 3 * time.Second

// HistorySink persists session events and samples to the database. PROGRESS
// chatter stays out of the log table; the websocket stream carries it live.
// A failed write is logged and dropped, never surfaced to the run.
type HistorySink struct {
	events  repository.EventRepo
	samples repository.SampleRepo
	log     *logger.Logger
}

func NewHistorySink(events repository.EventRepo, samples repository.SampleRepo, log *logger.Logger) *HistorySink {
	return &HistorySink{events: events, samples: samples, log: log}
}

func (h *HistorySink) OnEvent(ev rig.RigEvent) {
	if ev.Type == rig.EventProgress {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	if err := h.events.Append(ctx, ev); err != nil {
		h.log.Errorw("persist event failed", "type", ev.Type, "err", err)
	}
}

func (h *HistorySink) OnSample(s rig.MeasurementSample) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	if err := h.samples.Append(ctx, s); err != nil {
		h.log.Errorw("persist sample failed", "run_id", s.RunID, "err", err)
	}
}
