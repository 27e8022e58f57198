package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func policy(action MissingAction, count int, post MissingAction) OnDatasetMissing {
	p := NewOnDatasetMissing(action)
	p.PollCount = count
	p.PostPollAction = post
	return p
}

func observeAll(t *MissingTracker, checks ...bool) MissingState {
	var s MissingState
	for _, found := range checks {
		s = t.Observe(found)
	}
	return s
}

func TestMissingTrackerTransitions(t *testing.T) {
	tests := []struct {
		name   string
		policy OnDatasetMissing
		checks []bool
		want   MissingState
		fatal  bool
	}{
		{"present", policy(MissingActionError, 10, MissingActionError), []bool{true}, MissingState{Kind: StatePresent}, false},
		{"error fails at once", policy(MissingActionError, 10, MissingActionError), []bool{false}, MissingState{Kind: StateFailed}, true},
		{"warning exhausts at once", policy(MissingActionWarning, 10, MissingActionError), []bool{false}, MissingState{Kind: StateMissingExhausted}, false},
		{"poll starts polling", policy(MissingActionPoll, 3, MissingActionError), []bool{false}, MissingState{Kind: StatePolling, Attempt: 1}, false},
		{"poll counts attempts", policy(MissingActionPoll, 3, MissingActionError), []bool{false, false, false}, MissingState{Kind: StatePolling, Attempt: 3}, false},
		{"poll resolves", policy(MissingActionPoll, 3, MissingActionError), []bool{false, false, true}, MissingState{Kind: StateResolved}, false},
		{"poll count zero applies post action error", policy(MissingActionPoll, 0, MissingActionError), []bool{false}, MissingState{Kind: StateFailed}, true},
		{"poll count zero applies post action warning", policy(MissingActionPoll, 0, MissingActionWarning), []bool{false}, MissingState{Kind: StateMissingExhausted}, false},
		{"polls exhausted with warning", policy(MissingActionPoll, 3, MissingActionWarning), []bool{false, false, false, false}, MissingState{Kind: StateMissingExhausted}, false},
		{"polls exhausted with error", policy(MissingActionPoll, 3, MissingActionError), []bool{false, false, false, false}, MissingState{Kind: StateFailed}, true},
		{"terminal ignores later checks", policy(MissingActionPoll, 1, MissingActionWarning), []bool{false, true, false, false}, MissingState{Kind: StateResolved}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := tt.policy.Tracker()
			got := observeAll(tracker, tt.checks...)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fatal, tracker.Fatal())
		})
	}
}

func TestMissingTrackerPollCountZeroNeverPolls(t *testing.T) {
	tracker := policy(MissingActionPoll, 0, MissingActionWarning).Tracker()
	tracker.Observe(false)

	for _, s := range tracker.History() {
		assert.NotEqual(t, StatePolling, s.Kind)
	}
	assert.Equal(t, []MissingState{
		{Kind: StateMissingInitial},
		{Kind: StateMissingExhausted},
	}, tracker.History())
}

func TestMissingTrackerThreeFailedPollsWithWarning(t *testing.T) {
	tracker := policy(MissingActionPoll, 3, MissingActionWarning).Tracker()

	require.Equal(t, MissingState{Kind: StatePolling, Attempt: 1}, tracker.Observe(false))
	final := observeAll(tracker, false, false, false)

	assert.Equal(t, StateMissingExhausted, final.Kind)
	assert.False(t, tracker.Fatal())
}

func TestMissingTrackerDeterministic(t *testing.T) {
	checks := []bool{false, false, false, true}
	for _, p := range []OnDatasetMissing{
		policy(MissingActionPoll, 2, MissingActionWarning),
		policy(MissingActionPoll, 5, MissingActionError),
		policy(MissingActionWarning, 0, MissingActionError),
	} {
		first := observeAll(p.Tracker(), checks...)
		second := observeAll(p.Tracker(), checks...)
		assert.Equal(t, first, second)
	}
}

func TestMissingTrackerNextPollAt(t *testing.T) {
	p := policy(MissingActionPoll, 2, MissingActionError)
	p.PollInterval = 30
	tracker := p.Tracker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := tracker.NextPollAt(now)
	assert.False(t, ok)

	tracker.Observe(false)
	next, ok := tracker.NextPollAt(now)
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Second), next)
}

func TestMissingTrackerResolve(t *testing.T) {
	p := policy(MissingActionPoll, 5, MissingActionError)
	p.PollInterval = 7

	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	calls := 0
	exists := func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	}

	state, err := p.Tracker().Resolve(context.Background(), exists, sleep)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, state.Kind)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second}, slept)
}

func TestMissingTrackerResolveErrors(t *testing.T) {
	p := policy(MissingActionPoll, 5, MissingActionError)

	_, err := p.Tracker().Resolve(context.Background(), func(context.Context) (bool, error) {
		return false, fmt.Errorf("connection refused")
	}, nil)
	assert.EqualError(t, err, "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := p.Tracker().Resolve(ctx, func(context.Context) (bool, error) { return false, nil }, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatePolling, state.Kind)
}

func TestOnDatasetMissingDefaults(t *testing.T) {
	var p OnDatasetMissing
	require.NoError(t, yaml.Unmarshal([]byte("action: poll\n"), &p))
	assert.Equal(t, NewOnDatasetMissing(MissingActionPoll), p)

	var j OnDatasetMissing
	require.NoError(t, j.UnmarshalJSON([]byte(`{"action":"warning","poll_count":0}`)))
	assert.Equal(t, MissingActionWarning, j.Action)
	assert.Equal(t, 0, j.PollCount)
	assert.Equal(t, DefaultPollInterval, j.PollInterval)
}

func TestOnDatasetMissingLongPostPollKey(t *testing.T) {
	var p OnDatasetMissing
	require.NoError(t, yaml.Unmarshal([]byte("action: poll\npost_poll_dataset_missing_action: warning\n"), &p))
	assert.Equal(t, MissingActionWarning, p.PostPollAction)

	var j OnDatasetMissing
	require.NoError(t, j.UnmarshalJSON([]byte(`{"action":"poll","post_poll_dataset_missing_action":"warning","post_poll_action":"warning"}`)))
	assert.Equal(t, MissingActionWarning, j.PostPollAction)

	err := yaml.Unmarshal([]byte("action: poll\npost_poll_action: error\npost_poll_dataset_missing_action: warning\n"), &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicts with post_poll_dataset_missing_action")

	var unset OnDatasetMissing
	require.NoError(t, yaml.Unmarshal([]byte("{}"), &unset))
	assert.Equal(t, NewOnDatasetMissing(MissingActionError), unset)
}

func TestOnDatasetMissingValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  OnDatasetMissing
		wantErr string
	}{
		{"valid", NewOnDatasetMissing(MissingActionPoll), ""},
		{"post poll cannot poll", policy(MissingActionPoll, 1, MissingActionPoll), "post_poll_action must be error or warning"},
		{"unknown action", policy("retry", 1, MissingActionError), "unknown action"},
		{"negative count", policy(MissingActionPoll, -1, MissingActionError), "poll_count cannot be negative"},
		{"zero interval", OnDatasetMissing{Action: MissingActionPoll}, "poll_interval must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
