package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/ledger"
	"grantflow/internal/model"
)

// --- fakes ---

type fakeReleases struct {
	mu       sync.Mutex
	releases map[string]model.ReleaseInstruction
	listErr  error
}

func newFakeReleases(rels ...model.ReleaseInstruction) *fakeReleases {
	f := &fakeReleases{releases: make(map[string]model.ReleaseInstruction)}
	for _, rel := range rels {
		f.releases[rel.ID] = rel
	}
	return f
}

func (f *fakeReleases) Get(ctx context.Context, id string) (*model.ReleaseInstruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[id]
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return &rel, nil
}

func (f *fakeReleases) GetByMilestone(ctx context.Context, milestoneID string) (*model.ReleaseInstruction, error) {
	return nil, escrow.ErrNotFound
}

func (f *fakeReleases) MarkSubmitted(ctx context.Context, id, handle string) error {
	return nil
}

func (f *fakeReleases) ListSubmitted(ctx context.Context) ([]model.ReleaseInstruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.ReleaseInstruction
	for _, rel := range f.releases {
		if rel.Status == model.ReleaseStatusSubmitted {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (f *fakeReleases) SetOutcome(ctx context.Context, id, status, handle, reason string) error {
	return nil
}

func (f *fakeReleases) Requeue(ctx context.Context, id string) error {
	return nil
}

// fakeLedger serves a canned status per handle.
type fakeLedger struct {
	statuses  map[string]*ledger.ReleaseStatus
	statusErr error
	datum     *ledger.DatumState
}

func (l *fakeLedger) RequestRelease(ctx context.Context, projectID, milestoneID string, amount float64, destinationAddr, idempotencyKey string) (string, error) {
	return "", errors.New("not used")
}

func (l *fakeLedger) GetReleaseStatus(ctx context.Context, handle string) (*ledger.ReleaseStatus, error) {
	if l.statusErr != nil {
		return nil, l.statusErr
	}
	return l.statuses[handle], nil
}

func (l *fakeLedger) GetDatumState(ctx context.Context, projectID string) (*ledger.DatumState, error) {
	if l.datum == nil {
		return nil, errors.New("datum unavailable")
	}
	return l.datum, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	events   []string
	payloads map[string]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{payloads: make(map[string]any)}
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	p.payloads[routingKey] = payload
	return nil
}

func submittedRelease(handle string) model.ReleaseInstruction {
	return model.ReleaseInstruction{
		ID:          "rel-1",
		ProjectID:   "p1",
		MilestoneID: "m1",
		Amount:      3000,
		Handle:      handle,
		Status:      model.ReleaseStatusSubmitted,
	}
}

// --- tests ---

func TestPollPublishesConfirmedOutcome(t *testing.T) {
	releases := newFakeReleases(submittedRelease("tx-hash-1"))
	lc := &fakeLedger{
		statuses: map[string]*ledger.ReleaseStatus{
			"tx-hash-1": {Handle: "tx-hash-1", Status: "confirmed"},
		},
		datum: &ledger.DatumState{ProjectID: "p1", ReleasedAmount: 3000, ReleasedStages: 1},
	}
	pub := newFakePublisher()
	w := NewLedgerWatcher(releases, lc, pub, zap.NewNop())

	w.poll(context.Background())

	require.Equal(t, []string{mq.RoutingKeyReleaseConfirmed}, pub.events)
	payload, ok := pub.payloads[mq.RoutingKeyReleaseConfirmed].(mq.ReleaseConfirmedPayload)
	require.True(t, ok)
	require.Equal(t, "rel-1", payload.ReleaseID)
	require.Equal(t, "m1", payload.MilestoneID)
	require.Equal(t, "tx-hash-1", payload.Handle)
}

func TestPollPublishesFailedOutcomeWithReason(t *testing.T) {
	releases := newFakeReleases(submittedRelease("tx-hash-1"))
	lc := &fakeLedger{
		statuses: map[string]*ledger.ReleaseStatus{
			"tx-hash-1": {Handle: "tx-hash-1", Status: "failed", Reason: "utxo_contention"},
		},
	}
	pub := newFakePublisher()
	w := NewLedgerWatcher(releases, lc, pub, zap.NewNop())

	w.poll(context.Background())

	require.Equal(t, []string{mq.RoutingKeyReleaseFailed}, pub.events)
	payload, ok := pub.payloads[mq.RoutingKeyReleaseFailed].(mq.ReleaseFailedPayload)
	require.True(t, ok)
	require.Equal(t, "rel-1", payload.ReleaseID)
	require.Equal(t, "utxo_contention", payload.Reason)
}

func TestPollSkipsUnresolvedRelease(t *testing.T) {
	releases := newFakeReleases(submittedRelease("tx-hash-1"))
	lc := &fakeLedger{
		statuses: map[string]*ledger.ReleaseStatus{
			"tx-hash-1": {Handle: "tx-hash-1", Status: "pending"},
		},
	}
	pub := newFakePublisher()
	w := NewLedgerWatcher(releases, lc, pub, zap.NewNop())

	w.poll(context.Background())
	require.Empty(t, pub.events)
}

func TestPollToleratesStatusFetchError(t *testing.T) {
	releases := newFakeReleases(submittedRelease("tx-hash-1"))
	lc := &fakeLedger{statusErr: errors.New("failed to call ledger service: connection refused")}
	pub := newFakePublisher()
	w := NewLedgerWatcher(releases, lc, pub, zap.NewNop())

	w.poll(context.Background())
	require.Empty(t, pub.events)
}

func TestPollToleratesListError(t *testing.T) {
	releases := newFakeReleases()
	releases.listErr = errors.New("db down")
	pub := newFakePublisher()
	w := NewLedgerWatcher(releases, &fakeLedger{}, pub, zap.NewNop())

	w.poll(context.Background())
	require.Empty(t, pub.events)
}
