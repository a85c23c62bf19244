package session

import (
	"context"

	"backend-triptrack/internal/shared/apperr"
)

// ArrivalResult reports what a markArrived event did. Applied is false when
// the event targeted a stale or future experience index and was dropped.
type ArrivalResult struct {
	Applied    bool
	AllArrived bool
}

// FinishResult reports what a finishExperience event did. WinnerSlot is -1
// when all winner slots were already taken. NextIndex is only meaningful
// when Advanced is true.
type FinishResult struct {
	Progress   UserProgress
	WinnerSlot int
	Advanced   bool
	NextIndex  int
}

// Seed creates the session's progression state at trip start: one experience
// entry per stop-with-experience, the shared pointer at zero and a gate
// entry per already-known participant. The first experience starts awaiting
// arrivals; the rest are not reached yet.
func (m *Manager) Seed(ctx context.Context, tripID string, experienceCount int, participantIDs []string) error {
	states := make([]ExperienceState, experienceCount)
	for i := range states {
		states[i].Phase = PhaseNotReached
	}
	if experienceCount > 0 {
		states[0].Phase = PhaseAwaitingArrivals
	}

	if err := m.store.SetJSON(ctx, experiencesKey(tripID), states); err != nil {
		return err
	}
	if err := m.store.SetInt(ctx, expIndexKey(tripID), 0); err != nil {
		return err
	}
	if len(participantIDs) > 0 {
		if err := m.store.HSetEachJSON(ctx, gateKey(tripID), participantIDs, GateEntry{}); err != nil {
			return err
		}
	}
	return nil
}

// Teardown removes every ephemeral key belonging to the trip, including any
// participant records a best-effort removal pass missed.
func (m *Manager) Teardown(ctx context.Context, tripID string) error {
	keys, err := m.store.ScanKeys(ctx, userKeyPattern(tripID))
	if err != nil {
		return err
	}
	keys = append(keys,
		experiencesKey(tripID),
		leaderboardKey(tripID),
		gateKey(tripID),
		expIndexKey(tripID),
	)
	_, err = m.store.Del(ctx, keys...)
	return err
}

// CurrentIndex returns the shared experience pointer for a running session.
func (m *Manager) CurrentIndex(ctx context.Context, tripID string) (int, error) {
	idx, found, err := m.store.GetInt(ctx, expIndexKey(tripID))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, apperr.New(apperr.KindNotFound, source, "no running session for trip")
	}
	return int(idx), nil
}

// Experiences returns the per-experience state list for a running session.
func (m *Manager) Experiences(ctx context.Context, tripID string) ([]ExperienceState, error) {
	var states []ExperienceState
	found, err := m.store.GetJSON(ctx, experiencesKey(tripID), &states)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.New(apperr.KindNotFound, source, "no running session for trip")
	}
	return states, nil
}

// ExperiencePhase reports the explicit phase of one experience.
func (m *Manager) ExperiencePhase(ctx context.Context, tripID string, index int) (Phase, error) {
	states, err := m.Experiences(ctx, tripID)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(states) {
		return "", apperr.New(apperr.KindNotFound, source, "experience index out of range")
	}
	return states[index].Phase, nil
}

// MarkArrived records that a participant entered the current experience's
// range. Events for any other index are stale or early and are silently
// dropped. When the last tracked participant arrives the experience moves to
// awaiting finishes and AllArrived is reported so the caller can broadcast
// once.
func (m *Manager) MarkArrived(ctx context.Context, tripID, userID string, index int) (ArrivalResult, error) {
	current, err := m.CurrentIndex(ctx, tripID)
	if err != nil {
		return ArrivalResult{}, err
	}
	if index != current {
		return ArrivalResult{}, nil
	}

	var entry GateEntry
	if _, err := m.store.HGetJSON(ctx, gateKey(tripID), userID, &entry); err != nil {
		return ArrivalResult{}, err
	}
	entry.InRange = true
	if err := m.store.HSetJSON(ctx, gateKey(tripID), userID, entry); err != nil {
		return ArrivalResult{}, err
	}

	entries, err := m.gateEntries(ctx, tripID)
	if err != nil {
		return ArrivalResult{}, err
	}
	all := len(entries) > 0
	for _, e := range entries {
		if !e.InRange {
			all = false
			break
		}
	}

	if all {
		if err := m.transitionPhase(ctx, tripID, current, PhaseAwaitingArrivals, PhaseAwaitingFinishes); err != nil {
			return ArrivalResult{}, err
		}
	}
	return ArrivalResult{Applied: true, AllArrived: all}, nil
}

// MarkFinished records a participant's score for an experience. The index
// must address an entry of the session's experience list; anything outside
// it is NotFound. Finishing the same experience twice is a conflict. The
// leaderboard score is recomputed from the full score list, and the
// participant takes the next free winner slot in arrival order of the
// finish events. When the last
// tracked participant finishes, the shared pointer advances and every gate
// entry resets for the new experience.
func (m *Manager) MarkFinished(ctx context.Context, tripID, userID string, index, score int) (FinishResult, error) {
	if index < 0 {
		return FinishResult{}, apperr.New(apperr.KindNotFound, source, "experience index out of range")
	}

	mu := m.lock(tripID, userID)
	mu.Lock()
	defer mu.Unlock()

	states, err := m.Experiences(ctx, tripID)
	if err != nil {
		return FinishResult{}, err
	}
	if index >= len(states) {
		return FinishResult{}, apperr.New(apperr.KindNotFound, source, "experience index out of range")
	}

	var progress UserProgress
	found, err := m.store.GetJSON(ctx, userKey(tripID, userID), &progress)
	if err != nil {
		return FinishResult{}, err
	}
	if !found {
		return FinishResult{}, apperr.New(apperr.KindNotFound, source, "participant record not found")
	}
	if progress.FinishedAt(index) {
		return FinishResult{}, apperr.New(apperr.KindConflict, source, "experience already finished")
	}

	scores := make([]int, max(len(progress.Scores), index+1))
	copy(scores, progress.Scores)
	scores[index] = score
	finished := make([]bool, max(len(progress.Finished), index+1))
	copy(finished, progress.Finished)
	finished[index] = true

	updated, err := m.updateProgressLocked(ctx, tripID, userID, ProgressPatch{Scores: scores, Finished: finished})
	if err != nil {
		return FinishResult{}, err
	}
	result := FinishResult{Progress: updated, WinnerSlot: -1}

	statesDirty := false
	if slot := states[index].takeWinnerSlot(userID); slot >= 0 {
		result.WinnerSlot = slot
		statesDirty = true
	}

	var entry GateEntry
	if _, err := m.store.HGetJSON(ctx, gateKey(tripID), userID, &entry); err != nil {
		return FinishResult{}, err
	}
	entry.InRange = true
	entry.Finished = true
	if err := m.store.HSetJSON(ctx, gateKey(tripID), userID, entry); err != nil {
		return FinishResult{}, err
	}

	entries, err := m.gateEntries(ctx, tripID)
	if err != nil {
		return FinishResult{}, err
	}
	all := len(entries) > 0
	for _, e := range entries {
		if !e.Finished {
			all = false
			break
		}
	}

	if all {
		fields := make([]string, 0, len(entries))
		for id := range entries {
			fields = append(fields, id)
		}
		if err := m.store.HSetEachJSON(ctx, gateKey(tripID), fields, GateEntry{}); err != nil {
			return FinishResult{}, err
		}

		next, err := m.store.Incr(ctx, expIndexKey(tripID))
		if err != nil {
			return FinishResult{}, err
		}
		result.Advanced = true
		result.NextIndex = int(next)

		states[index].Phase = PhasePassed
		statesDirty = true
		if result.NextIndex < len(states) {
			states[result.NextIndex].Phase = PhaseAwaitingArrivals
			statesDirty = true
		}
	}

	if statesDirty {
		if err := m.store.SetJSON(ctx, experiencesKey(tripID), states); err != nil {
			return FinishResult{}, err
		}
	}
	return result, nil
}

func (m *Manager) transitionPhase(ctx context.Context, tripID string, index int, from, to Phase) error {
	states, err := m.Experiences(ctx, tripID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(states) || states[index].Phase != from {
		return nil
	}
	states[index].Phase = to
	return m.store.SetJSON(ctx, experiencesKey(tripID), states)
}
