package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rel := range f.releases {
		if rel.MilestoneID == milestoneID {
			return &rel, nil
		}
	}
	return nil, escrow.ErrNotFound
}

func (f *fakeReleases) MarkSubmitted(ctx context.Context, id, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[id]
	if !ok || rel.Status != model.ReleaseStatusPending {
		return escrow.ErrNotFound
	}
	rel.Status = model.ReleaseStatusSubmitted
	rel.Handle = handle
	f.releases[id] = rel
	return nil
}

func (f *fakeReleases) ListSubmitted(ctx context.Context) ([]model.ReleaseInstruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ReleaseInstruction
	for _, rel := range f.releases {
		if rel.Status == model.ReleaseStatusSubmitted {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (f *fakeReleases) SetOutcome(ctx context.Context, id, status, handle, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[id]
	if !ok {
		return escrow.ErrNotFound
	}
	rel.Status = status
	rel.Handle = handle
	rel.FailureReason = reason
	f.releases[id] = rel
	return nil
}

func (f *fakeReleases) Requeue(ctx context.Context, id string) error {
	return nil
}

// fakeLedger returns a fixed handle or error and counts submissions.
type fakeLedger struct {
	handle  string
	err     error
	submits int
}

func (l *fakeLedger) RequestRelease(ctx context.Context, projectID, milestoneID string, amount float64, destinationAddr, idempotencyKey string) (string, error) {
	l.submits++
	return l.handle, l.err
}

func (l *fakeLedger) GetReleaseStatus(ctx context.Context, handle string) (*ledger.ReleaseStatus, error) {
	return &ledger.ReleaseStatus{Handle: handle, Status: "pending"}, nil
}

func (l *fakeLedger) GetDatumState(ctx context.Context, projectID string) (*ledger.DatumState, error) {
	return &ledger.DatumState{ProjectID: projectID}, nil
}

// fakePublisher records routing keys, payloads and DLQ drops.
type fakePublisher struct {
	mu       sync.Mutex
	events   []string
	payloads map[string]any
	dlq      int
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

func (p *fakePublisher) PublishToDLQ(routingKey string, payload []byte, originalError string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dlq++
	return nil
}

type fakeDeduper struct {
	duplicate bool
	released  []string
}

func (d *fakeDeduper) AcquireOnce(ctx context.Context, handler, entityID string) bool {
	return !d.duplicate
}

func (d *fakeDeduper) Release(ctx context.Context, handler, entityID string) {
	d.released = append(d.released, entityID)
}

type fakeRetryCounter struct {
	attempts int64
}

func (c *fakeRetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	c.attempts++
	return c.attempts, nil
}

// --- fixture ---

type handlerFixture struct {
	handler  *ReleaseRequestedHandler
	releases *fakeReleases
	ledger   *fakeLedger
	pub      *fakePublisher
	deduper  *fakeDeduper
	retries  *fakeRetryCounter
}

func newHandlerFixture(rel model.ReleaseInstruction, lc *fakeLedger) *handlerFixture {
	releases := newFakeReleases(rel)
	pub := newFakePublisher()
	deduper := &fakeDeduper{}
	retries := &fakeRetryCounter{}
	return &handlerFixture{
		handler:  NewReleaseRequestedHandler(releases, lc, pub, deduper, retries, zap.NewNop()),
		releases: releases,
		ledger:   lc,
		pub:      pub,
		deduper:  deduper,
		retries:  retries,
	}
}

func pendingRelease() model.ReleaseInstruction {
	return model.ReleaseInstruction{
		ID:              "rel-1",
		ProjectID:       "p1",
		MilestoneID:     "m1",
		Amount:          3000,
		DestinationAddr: "addr1dest",
		IdempotencyKey:  "key-1",
		Status:          model.ReleaseStatusPending,
	}
}

func requestedMessage(t *testing.T, rel model.ReleaseInstruction) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mq.ReleaseRequestedPayload{
		ReleaseID:       rel.ID,
		ProjectID:       rel.ProjectID,
		MilestoneID:     rel.MilestoneID,
		Amount:          rel.Amount,
		DestinationAddr: rel.DestinationAddr,
		IdempotencyKey:  rel.IdempotencyKey,
	})
	require.NoError(t, err)
	return raw
}

// --- tests ---

func TestSubmitRecordsHandleWithoutConfirming(t *testing.T) {
	rel := pendingRelease()
	f := newHandlerFixture(rel, &fakeLedger{handle: "tx-hash-1"})

	require.NoError(t, f.handler.HandleReleaseRequested(context.Background(), requestedMessage(t, rel)))

	// ledger 受理只落 submitted + 句柄，确认事件由 watcher 发
	got, err := f.releases.Get(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReleaseStatusSubmitted, got.Status)
	require.Equal(t, "tx-hash-1", got.Handle)
	require.Empty(t, f.pub.events)
}

func TestResubmitSkippedAfterSubmission(t *testing.T) {
	rel := pendingRelease()
	lc := &fakeLedger{handle: "tx-hash-1"}
	f := newHandlerFixture(rel, lc)
	ctx := context.Background()

	require.NoError(t, f.handler.HandleReleaseRequested(ctx, requestedMessage(t, rel)))
	require.NoError(t, f.handler.HandleReleaseRequested(ctx, requestedMessage(t, rel)))

	require.Equal(t, 1, lc.submits)
}

func TestDuplicateDeliverySkipsLedgerCall(t *testing.T) {
	rel := pendingRelease()
	lc := &fakeLedger{handle: "tx-hash-1"}
	f := newHandlerFixture(rel, lc)
	f.deduper.duplicate = true

	require.NoError(t, f.handler.HandleReleaseRequested(context.Background(), requestedMessage(t, rel)))
	require.Zero(t, lc.submits)
}

func TestTerminalLedgerErrorPublishesFailed(t *testing.T) {
	rel := pendingRelease()
	f := newHandlerFixture(rel, &fakeLedger{err: errors.New("ledger service error: 400")})

	require.NoError(t, f.handler.HandleReleaseRequested(context.Background(), requestedMessage(t, rel)))

	require.Equal(t, []string{mq.RoutingKeyReleaseFailed}, f.pub.events)
	payload, ok := f.pub.payloads[mq.RoutingKeyReleaseFailed].(mq.ReleaseFailedPayload)
	require.True(t, ok)
	require.Equal(t, rel.ID, payload.ReleaseID)
	require.Equal(t, "ledger_rejected", payload.Reason)

	// 指令保持 pending，等 operator requeue 路径
	got, err := f.releases.Get(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Equal(t, model.ReleaseStatusPending, got.Status)
	require.Equal(t, []string{rel.ID}, f.deduper.released)
}

func TestRetryableLedgerErrorRequeues(t *testing.T) {
	rel := pendingRelease()
	f := newHandlerFixture(rel, &fakeLedger{err: fmt.Errorf("ledger service 5xx: 503")})

	err := f.handler.HandleReleaseRequested(context.Background(), requestedMessage(t, rel))
	require.Error(t, err) // nack → redelivery
	require.Empty(t, f.pub.events)
	require.Equal(t, []string{rel.ID}, f.deduper.released)
}

func TestRetryableLedgerErrorExhaustsToDLQ(t *testing.T) {
	rel := pendingRelease()
	f := newHandlerFixture(rel, &fakeLedger{err: fmt.Errorf("ledger service 5xx: 503")})
	ctx := context.Background()
	raw := requestedMessage(t, rel)

	for i := 0; i < maxLedgerRetries-1; i++ {
		require.Error(t, f.handler.HandleReleaseRequested(ctx, raw))
	}
	// 最后一次：进 DLQ 并转 failed 流程，消息本身 ack
	require.NoError(t, f.handler.HandleReleaseRequested(ctx, raw))

	require.Equal(t, 1, f.pub.dlq)
	payload, ok := f.pub.payloads[mq.RoutingKeyReleaseFailed].(mq.ReleaseFailedPayload)
	require.True(t, ok)
	require.Equal(t, "retries_exhausted", payload.Reason)
}
