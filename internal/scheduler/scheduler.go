// Package scheduler runs the three independent periodic passes the core
// depends on: quality evaluation, ack summary emission, and fingerprint TTL
// sweeping. Each runs on its own ticker and guards against overlapping runs
// of itself, grounded on the teacher's negotiation-coalescing debounce
// pattern (one in-flight unit of work at a time, never queued).
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/n0remac/confsfu/internal/ack"
)

const (
	// QualityEvalInterval matches spec §4.5's periodic re-evaluation cadence.
	QualityEvalInterval = 5 * time.Second
	// AckSummaryInterval matches spec §4.4's 2-second summary window.
	AckSummaryInterval = 2 * time.Second
	// FingerprintSweepInterval matches spec §4.3's TTL sweep cadence.
	FingerprintSweepInterval = 5 * time.Second
)

// MeetingLister abstracts the registry's list-of-active-meetings read.
type MeetingLister interface {
	AllMeetingIDs() []string
}

// QualityEvaluator is the narrow slice of the quality controller this
// scheduler drives.
type QualityEvaluator interface {
	EvaluateMeeting(meetingID string)
}

// AckTicker is the narrow slice of the ack aggregator this scheduler
// drives.
type AckTicker interface {
	Tick() []ack.Summary
}

// AckSink receives each tick's summaries for delivery over signaling.
type AckSink func(summaries []ack.Summary)

// FingerprintSweeper is the narrow slice of the fingerprint verifier this
// scheduler drives.
type FingerprintSweeper interface {
	Sweep() int
}

// Scheduler is the PeriodicScheduler (C9).
type Scheduler struct {
	log *slog.Logger

	meetings    MeetingLister
	quality     QualityEvaluator
	acks        AckTicker
	ackSink     AckSink
	fingerprint FingerprintSweeper

	qualityBusy    atomic.Bool
	ackBusy        atomic.Bool
	fingerprintBusy atomic.Bool
}

// New builds a Scheduler.
func New(log *slog.Logger, meetings MeetingLister, quality QualityEvaluator, acks AckTicker, ackSink AckSink, fp FingerprintSweeper) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:         log,
		meetings:    meetings,
		quality:     quality,
		acks:        acks,
		ackSink:     ackSink,
		fingerprint: fp,
	}
}

// Run starts all three tickers and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	qualityTicker := time.NewTicker(QualityEvalInterval)
	ackTicker := time.NewTicker(AckSummaryInterval)
	sweepTicker := time.NewTicker(FingerprintSweepInterval)
	defer qualityTicker.Stop()
	defer ackTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-qualityTicker.C:
			s.runQualityTick()
		case <-ackTicker.C:
			s.runAckTick()
		case <-sweepTicker.C:
			s.runSweepTick()
		}
	}
}

// runQualityTick evaluates every active meeting. If the previous tick is
// still running, this tick is skipped entirely rather than queued.
func (s *Scheduler) runQualityTick() {
	if !s.qualityBusy.CompareAndSwap(false, true) {
		s.log.Warn("quality tick skipped; previous tick still running")
		return
	}
	defer s.qualityBusy.Store(false)

	for _, id := range s.meetings.AllMeetingIDs() {
		s.quality.EvaluateMeeting(id)
	}
}

func (s *Scheduler) runAckTick() {
	if !s.ackBusy.CompareAndSwap(false, true) {
		s.log.Warn("ack tick skipped; previous tick still running")
		return
	}
	defer s.ackBusy.Store(false)

	summaries := s.acks.Tick()
	if len(summaries) > 0 && s.ackSink != nil {
		s.ackSink(summaries)
	}
}

func (s *Scheduler) runSweepTick() {
	if !s.fingerprintBusy.CompareAndSwap(false, true) {
		s.log.Warn("fingerprint sweep skipped; previous sweep still running")
		return
	}
	defer s.fingerprintBusy.Store(false)

	evicted := s.fingerprint.Sweep()
	if evicted > 0 {
		s.log.Debug("fingerprint sweep evicted entries", "count", evicted)
	}
}
