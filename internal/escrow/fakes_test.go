package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grantflow/internal/model"
)

// memStore is an in-memory implementation of every store interface, with the
// same guard semantics as the pgx repositories.
type memStore struct {
	mu         sync.Mutex
	projects   map[string]model.Project
	milestones map[string]model.MilestoneStage
	roster     map[string][]model.Voter
	snapshots  map[string]model.RosterSnapshot
	tallies    map[string]bool
	votes      map[string]map[string]model.Vote
	evidence   map[string][]model.EvidenceItem
	releases   map[string]model.ReleaseInstruction
	requeued   []string
}

func newMemStore() *memStore {
	return &memStore{
		projects:   make(map[string]model.Project),
		milestones: make(map[string]model.MilestoneStage),
		roster:     make(map[string][]model.Voter),
		snapshots:  make(map[string]model.RosterSnapshot),
		tallies:    make(map[string]bool),
		votes:      make(map[string]map[string]model.Vote),
		evidence:   make(map[string][]model.EvidenceItem),
		releases:   make(map[string]model.ReleaseInstruction),
	}
}

// --- ProjectStore ---

func (s *memStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *memStore) Insert(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	s.projects[id] = p
	return nil
}

// --- MilestoneStore (wrapped to avoid method-name clashes) ---

type memMilestones struct{ s *memStore }

func (m memMilestones) Get(ctx context.Context, id string) (*model.MilestoneStage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stage, ok := m.s.milestones[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &stage, nil
}

func (m memMilestones) ListByProject(ctx context.Context, projectID string) ([]model.MilestoneStage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.MilestoneStage
	for _, stage := range m.s.milestones {
		if stage.ProjectID == projectID {
			out = append(out, stage)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

func (m memMilestones) InsertAll(ctx context.Context, stages []model.MilestoneStage) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, stage := range stages {
		m.s.milestones[stage.ID] = stage
	}
	return nil
}

func (m memMilestones) UpdateStatus(ctx context.Context, id, status string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stage, ok := m.s.milestones[id]
	if !ok {
		return ErrNotFound
	}
	stage.Status = status
	m.s.milestones[id] = stage
	return nil
}

func (m memMilestones) ApproveWithRelease(ctx context.Context, id string, approvedAt time.Time, rel *model.ReleaseInstruction) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stage, ok := m.s.milestones[id]
	if !ok {
		return ErrNotFound
	}
	if stage.ReleaseIssued {
		return fmt.Errorf("release already issued for milestone %s", id)
	}
	stage.Status = model.MilestoneStatusApproved
	stage.ApprovedAt = &approvedAt
	stage.ReleaseIssued = true
	stage.ReleasePending = true
	m.s.milestones[id] = stage
	m.s.releases[rel.ID] = *rel
	return nil
}

func (m memMilestones) SetReleaseOutcome(ctx context.Context, id string, pending, released bool, handle string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stage, ok := m.s.milestones[id]
	if !ok {
		return ErrNotFound
	}
	stage.ReleasePending = pending
	stage.Released = released
	stage.ReleaseHandle = handle
	m.s.milestones[id] = stage
	return nil
}

// --- RosterStore ---

type memRoster struct{ s *memStore }

func (r memRoster) ListVoters(ctx context.Context, projectID string) ([]model.Voter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]model.Voter(nil), r.s.roster[projectID]...), nil
}

func (r memRoster) GetSnapshot(ctx context.Context, milestoneID string) (*model.RosterSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.snapshots[milestoneID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (r memRoster) InsertSnapshot(ctx context.Context, snap *model.RosterSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.snapshots[snap.MilestoneID]; ok {
		return ErrAlreadySnapshotted
	}
	r.s.snapshots[snap.MilestoneID] = *snap
	return nil
}

func (r memRoster) DeleteSnapshot(ctx context.Context, milestoneID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.snapshots, milestoneID)
	return nil
}

// --- VoteStore ---

type memVotes struct{ s *memStore }

func (v memVotes) Upsert(ctx context.Context, vote *model.Vote) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	byVoter, ok := v.s.votes[vote.MilestoneID]
	if !ok {
		byVoter = make(map[string]model.Vote)
		v.s.votes[vote.MilestoneID] = byVoter
	}
	byVoter[vote.VoterID] = *vote
	return nil
}

func (v memVotes) ListByMilestone(ctx context.Context, milestoneID string) ([]model.Vote, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []model.Vote
	for _, vote := range v.s.votes[milestoneID] {
		out = append(out, vote)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}

func (v memVotes) OpenTally(ctx context.Context, milestoneID string, totalPower int, openedAt time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.tallies[milestoneID] {
		return ErrTallyAlreadyOpen
	}
	v.s.tallies[milestoneID] = true
	return nil
}

func (v memVotes) TallyOpen(ctx context.Context, milestoneID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.tallies[milestoneID], nil
}

// --- EvidenceStore ---

type memEvidence struct{ s *memStore }

func (e memEvidence) Insert(ctx context.Context, item *model.EvidenceItem) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.evidence[item.MilestoneID] = append(e.s.evidence[item.MilestoneID], *item)
	return nil
}

func (e memEvidence) ListByMilestone(ctx context.Context, milestoneID string) ([]model.EvidenceItem, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return append([]model.EvidenceItem(nil), e.s.evidence[milestoneID]...), nil
}

// --- ReleaseStore ---

type memReleases struct{ s *memStore }

func (r memReleases) Get(ctx context.Context, id string) (*model.ReleaseInstruction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rel, nil
}

func (r memReleases) GetByMilestone(ctx context.Context, milestoneID string) (*model.ReleaseInstruction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rel := range r.s.releases {
		if rel.MilestoneID == milestoneID {
			return &rel, nil
		}
	}
	return nil, ErrNotFound
}

func (r memReleases) MarkSubmitted(ctx context.Context, id, handle string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	if !ok || rel.Status != model.ReleaseStatusPending {
		return ErrNotFound
	}
	rel.Status = model.ReleaseStatusSubmitted
	rel.Handle = handle
	r.s.releases[id] = rel
	return nil
}

func (r memReleases) ListSubmitted(ctx context.Context) ([]model.ReleaseInstruction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.ReleaseInstruction
	for _, rel := range r.s.releases {
		if rel.Status == model.ReleaseStatusSubmitted {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (r memReleases) SetOutcome(ctx context.Context, id, status, handle, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	if !ok {
		return ErrNotFound
	}
	rel.Status = status
	rel.Handle = handle
	rel.FailureReason = reason
	now := time.Now()
	rel.ResolvedAt = &now
	r.s.releases[id] = rel
	return nil
}

func (r memReleases) Requeue(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rel, ok := r.s.releases[id]
	if !ok {
		return ErrNotFound
	}
	if rel.Status != model.ReleaseStatusFailed {
		return ErrReleaseNotRetryable
	}
	rel.Status = model.ReleaseStatusPending
	rel.FailureReason = ""
	rel.ResolvedAt = nil
	r.s.releases[id] = rel
	r.s.requeued = append(r.s.requeued, id)
	return nil
}

// --- collaborator stubs ---

// stubVerifier accepts or rejects every signature.
type stubVerifier struct {
	valid bool
	err   error
}

func (v stubVerifier) Verify(ctx context.Context, voterID, message, signature string) (bool, error) {
	return v.valid, v.err
}

// recordPublisher collects published routing keys for assertions.
type recordPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordPublisher) published(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == routingKey {
			n++
		}
	}
	return n
}
