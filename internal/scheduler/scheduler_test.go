package scheduler

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n0remac/confsfu/internal/ack"
)

type fakeMeetings struct {
	ids []string
}

func (f *fakeMeetings) AllMeetingIDs() []string { return f.ids }

type fakeQuality struct {
	evaluated []string
}

func (f *fakeQuality) EvaluateMeeting(meetingID string) {
	f.evaluated = append(f.evaluated, meetingID)
}

type fakeAcks struct {
	summaries []ack.Summary
	calls     int32
}

func (f *fakeAcks) Tick() []ack.Summary {
	atomic.AddInt32(&f.calls, 1)
	return f.summaries
}

type fakeSweeper struct {
	evicted int
	calls   int
}

func (f *fakeSweeper) Sweep() int {
	f.calls++
	return f.evicted
}

func TestRunQualityTickEvaluatesEveryMeeting(t *testing.T) {
	meetings := &fakeMeetings{ids: []string{"m1", "m2"}}
	quality := &fakeQuality{}
	s := New(nil, meetings, quality, &fakeAcks{}, nil, &fakeSweeper{})

	s.runQualityTick()

	assert.ElementsMatch(t, []string{"m1", "m2"}, quality.evaluated)
}

func TestRunQualityTickSkipsWhileBusy(t *testing.T) {
	meetings := &fakeMeetings{ids: []string{"m1"}}
	quality := &fakeQuality{}
	s := New(nil, meetings, quality, &fakeAcks{}, nil, &fakeSweeper{})

	s.qualityBusy.Store(true)
	s.runQualityTick()

	assert.Empty(t, quality.evaluated)
}

func TestRunAckTickDeliversNonEmptySummaries(t *testing.T) {
	acks := &fakeAcks{summaries: []ack.Summary{{MeetingID: "m1", SenderUserID: "a"}}}
	var delivered []ack.Summary
	sink := func(s []ack.Summary) { delivered = s }
	s := New(nil, &fakeMeetings{}, &fakeQuality{}, acks, sink, &fakeSweeper{})

	s.runAckTick()

	assert.Len(t, delivered, 1)
}

func TestRunAckTickSkipsSinkWhenEmpty(t *testing.T) {
	acks := &fakeAcks{}
	called := false
	sink := func(s []ack.Summary) { called = true }
	s := New(nil, &fakeMeetings{}, &fakeQuality{}, acks, sink, &fakeSweeper{})

	s.runAckTick()

	assert.False(t, called)
}

func TestRunSweepTickRunsSweeper(t *testing.T) {
	sweeper := &fakeSweeper{evicted: 3}
	s := New(nil, &fakeMeetings{}, &fakeQuality{}, &fakeAcks{}, nil, sweeper)
	s.runSweepTick()
	assert.Equal(t, 1, sweeper.calls)
}
