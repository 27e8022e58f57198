package models

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/porter/pkg/errors"
)

const (
	DefaultPollInterval = 60
	DefaultPollCount    = 10
)

// OnDatasetMissing is the policy applied when a dataset is not found.
type OnDatasetMissing struct {
	Action MissingAction `yaml:"action" json:"action"`
	// PollInterval is the wait between checks in seconds
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`
	// PollCount is the number of checks after the first miss
	PollCount int `yaml:"poll_count" json:"poll_count"`
	// PostPollAction applies once polling gives up: error or warning
	PostPollAction MissingAction `yaml:"post_poll_action" json:"post_poll_action"`
}

// NewOnDatasetMissing returns a policy with the default interval, count and
// post-poll action.
func NewOnDatasetMissing(action MissingAction) OnDatasetMissing {
	return OnDatasetMissing{
		Action:         action,
		PollInterval:   DefaultPollInterval,
		PollCount:      DefaultPollCount,
		PostPollAction: MissingActionError,
	}
}

// onDatasetMissingDoc is the document form of the policy. The long
// post_poll_dataset_missing_action key is accepted as an alias.
type onDatasetMissingDoc struct {
	Action         MissingAction `yaml:"action" json:"action"`
	PollInterval   *int          `yaml:"poll_interval" json:"poll_interval"`
	PollCount      *int          `yaml:"poll_count" json:"poll_count"`
	PostPollAction MissingAction `yaml:"post_poll_action" json:"post_poll_action"`
	PostPollAlias  MissingAction `yaml:"post_poll_dataset_missing_action" json:"post_poll_dataset_missing_action"`
}

func (d onDatasetMissingDoc) policy() (OnDatasetMissing, error) {
	p := NewOnDatasetMissing(MissingActionError)
	if d.Action != "" {
		p.Action = d.Action
	}
	if d.PollInterval != nil {
		p.PollInterval = *d.PollInterval
	}
	if d.PollCount != nil {
		p.PollCount = *d.PollCount
	}
	post := d.PostPollAction
	if d.PostPollAlias != "" {
		if post != "" && post != d.PostPollAlias {
			return p, errors.New(errors.ErrorTypeValidation, fmt.Sprintf(
				"on_dataset_missing: post_poll_action %q conflicts with post_poll_dataset_missing_action %q",
				post, d.PostPollAlias))
		}
		post = d.PostPollAlias
	}
	if post != "" {
		p.PostPollAction = post
	}
	return p, nil
}

// UnmarshalYAML fills defaults for absent keys.
func (p *OnDatasetMissing) UnmarshalYAML(node *yaml.Node) error {
	var doc onDatasetMissingDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	policy, err := doc.policy()
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// UnmarshalJSON fills defaults for absent keys.
func (p *OnDatasetMissing) UnmarshalJSON(data []byte) error {
	var doc onDatasetMissingDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	policy, err := doc.policy()
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// Validate checks the policy. Polling can only give up with error or warning.
func (p *OnDatasetMissing) Validate() error {
	var errs error
	if p.Action == "" {
		p.Action = MissingActionError
	}
	if p.PostPollAction == "" {
		p.PostPollAction = MissingActionError
	}
	if !p.Action.Valid() {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("on_dataset_missing: unknown action %q", p.Action)))
	}
	if p.PostPollAction != MissingActionError && p.PostPollAction != MissingActionWarning {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("on_dataset_missing: post_poll_action must be error or warning, got %q", p.PostPollAction)))
	}
	if p.PollInterval <= 0 {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			"on_dataset_missing: poll_interval must be positive"))
	}
	if p.PollCount < 0 {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			"on_dataset_missing: poll_count cannot be negative"))
	}
	return errs
}

// Interval returns PollInterval as a duration.
func (p OnDatasetMissing) Interval() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// Tracker starts a state machine for one dataset under this policy.
func (p OnDatasetMissing) Tracker() *MissingTracker {
	return &MissingTracker{policy: p}
}

// MissingStateKind enumerates the states of a MissingTracker.
type MissingStateKind int

const (
	StateUnchecked MissingStateKind = iota
	StatePresent
	StateMissingInitial
	StatePolling
	StateMissingExhausted
	StateResolved
	StateFailed
)

func (k MissingStateKind) String() string {
	switch k {
	case StateUnchecked:
		return "UNCHECKED"
	case StatePresent:
		return "PRESENT"
	case StateMissingInitial:
		return "MISSING_INITIAL"
	case StatePolling:
		return "POLLING"
	case StateMissingExhausted:
		return "MISSING_EXHAUSTED"
	case StateResolved:
		return "RESOLVED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("MissingStateKind(%d)", int(k))
	}
}

// MissingState is a tracker state. Attempt is set while polling and counts
// from 1.
type MissingState struct {
	Kind    MissingStateKind
	Attempt int
}

// Terminal reports whether no further checks are needed.
func (s MissingState) Terminal() bool {
	switch s.Kind {
	case StatePresent, StateMissingExhausted, StateResolved, StateFailed:
		return true
	}
	return false
}

func (s MissingState) String() string {
	if s.Kind == StatePolling {
		return fmt.Sprintf("POLLING(%d)", s.Attempt)
	}
	return s.Kind.String()
}

// MissingTracker turns a sequence of check outcomes into a terminal state.
// It holds no clock; waiting between checks is up to the caller.
type MissingTracker struct {
	policy  OnDatasetMissing
	state   MissingState
	history []MissingState
}

// State returns the current state.
func (t *MissingTracker) State() MissingState { return t.state }

// History returns every state entered, in order.
func (t *MissingTracker) History() []MissingState {
	return append([]MissingState(nil), t.history...)
}

// Fatal reports whether the dataset ended in FAILED.
func (t *MissingTracker) Fatal() bool { return t.state.Kind == StateFailed }

// Observe feeds one check outcome and returns the new state. Terminal states
// ignore further checks.
func (t *MissingTracker) Observe(found bool) MissingState {
	switch t.state.Kind {
	case StateUnchecked:
		if found {
			t.enter(MissingState{Kind: StatePresent})
			break
		}
		t.enter(MissingState{Kind: StateMissingInitial})
		switch t.policy.Action {
		case MissingActionWarning:
			t.enter(MissingState{Kind: StateMissingExhausted})
		case MissingActionPoll:
			t.poll(1)
		default:
			t.enter(MissingState{Kind: StateFailed})
		}
	case StatePolling:
		if found {
			t.enter(MissingState{Kind: StateResolved})
			break
		}
		t.poll(t.state.Attempt + 1)
	}
	return t.state
}

// poll enters POLLING(attempt), or the post-poll action once attempts run out.
func (t *MissingTracker) poll(attempt int) {
	if attempt > t.policy.PollCount {
		if t.policy.PostPollAction == MissingActionWarning {
			t.enter(MissingState{Kind: StateMissingExhausted})
		} else {
			t.enter(MissingState{Kind: StateFailed})
		}
		return
	}
	t.enter(MissingState{Kind: StatePolling, Attempt: attempt})
}

func (t *MissingTracker) enter(s MissingState) {
	t.state = s
	t.history = append(t.history, s)
}

// NextPollAt returns when the next check is due. The second value is false
// unless the tracker is polling.
func (t *MissingTracker) NextPollAt(now time.Time) (time.Time, bool) {
	if t.state.Kind != StatePolling {
		return time.Time{}, false
	}
	return now.Add(t.policy.Interval()), true
}

// ExistsFunc reports whether a dataset exists.
type ExistsFunc func(ctx context.Context) (bool, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Resolve checks until the tracker reaches a terminal state, sleeping the
// poll interval between checks. A nil sleep waits on a timer.
func (t *MissingTracker) Resolve(ctx context.Context, exists ExistsFunc, sleep Sleeper) (MissingState, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	for {
		found, err := exists(ctx)
		if err != nil {
			return t.state, err
		}
		state := t.Observe(found)
		if state.Terminal() {
			return state, nil
		}
		if err := sleep(ctx, t.policy.Interval()); err != nil {
			return t.state, err
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
