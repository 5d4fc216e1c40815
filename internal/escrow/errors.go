package escrow

import "errors"

// Validation errors: rejected before any state is created, caller fixes input.
var (
	// ErrInvalidSchedule indicates a bad stage count, percentage sum, or funding total.
	ErrInvalidSchedule = errors.New("invalid milestone schedule")
	// ErrInvalidEvidenceType indicates an evidence type outside the closed set.
	ErrInvalidEvidenceType = errors.New("invalid evidence type")
	// ErrInvalidChoice indicates a vote choice other than approve/reject.
	ErrInvalidChoice = errors.New("invalid vote choice")
	// ErrEmptySignature indicates a vote without a wallet attestation.
	ErrEmptySignature = errors.New("vote signature is empty")
)

// State-violation errors: no state mutated, caller must re-fetch before retrying.
var (
	// ErrInvalidTransition indicates a milestone status transition outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid milestone transition")
	// ErrInvalidStateForEvidence indicates evidence submitted after voting opened.
	ErrInvalidStateForEvidence = errors.New("milestone no longer accepts evidence")
	// ErrAlreadySnapshotted indicates a second roster freeze for the same milestone.
	ErrAlreadySnapshotted = errors.New("roster already snapshotted for milestone")
	// ErrTallyAlreadyOpen indicates a second tally open for the same milestone.
	ErrTallyAlreadyOpen = errors.New("tally already open for milestone")
	// ErrTallyClosed indicates a vote cast on a milestone no longer in voting.
	ErrTallyClosed = errors.New("tally is closed")
	// ErrReleaseNotRetryable indicates a retry on a release that is not in a failed state.
	ErrReleaseNotRetryable = errors.New("release is not awaiting retry")
)

// Roster errors: surfaced as actionable user-facing errors.
var (
	// ErrEmptyRoster indicates a snapshot attempt with no eligible voters configured.
	ErrEmptyRoster = errors.New("no eligible voters configured")
	// ErrUnknownVoter indicates a vote from outside the milestone's frozen roster.
	ErrUnknownVoter = errors.New("voter not in milestone snapshot")
	// ErrInvalidVotingPower indicates a roster weight outside [1,10].
	ErrInvalidVotingPower = errors.New("voting power out of range")
	// ErrSignatureInvalid indicates the wallet attestation failed verification.
	ErrSignatureInvalid = errors.New("vote signature verification failed")
)

// Schedule progression signals.
var (
	// ErrScheduleComplete signals all stages approved; the project is fully funded.
	ErrScheduleComplete = errors.New("milestone schedule complete")
	// ErrScheduleHalted signals a rejected stage blocking progression.
	ErrScheduleHalted = errors.New("milestone schedule halted by rejection")
)

// ErrNotFound is returned by stores when an entity doesn't exist.
var ErrNotFound = errors.New("not found")
