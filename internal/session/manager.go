package session

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"backend-triptrack/internal/shared/apperr"
	"backend-triptrack/internal/store"
)

const source = "session"

const lockStripes = 64

// Manager owns all ephemeral state for running trips. Every mutation goes
// through the injected store; nothing else touches session keys.
//
// Cross-key consistency relies on two rules: leaderboard scores are always
// recomputed from the participant record before writing (never incremented),
// and read-modify-write of a participant record is serialized per
// (trip, participant) through a striped mutex. Mutations for different
// participants interleave freely; the all-arrived/all-finished checks always
// re-read the live gate hash.
type Manager struct {
	store *store.Store
	locks [lockStripes]sync.Mutex
}

func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

func (m *Manager) lock(tripID, userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tripID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(userID))
	return &m.locks[h.Sum32()%lockStripes]
}

// AddParticipant registers a participant in a trip session. The call is
// idempotent: an existing progress record is returned untouched, so a
// reconnect can never zero out scores already earned. The arrival-gate entry
// is re-seeded from the record so a rejoining participant who already
// finished the current experience does not block the group.
func (m *Manager) AddParticipant(ctx context.Context, tripID, userID, name, imageURL string) (UserProgress, error) {
	mu := m.lock(tripID, userID)
	mu.Lock()
	defer mu.Unlock()

	progress := UserProgress{Name: name, ImageURL: imageURL, Scores: []int{}, Finished: []bool{}}
	existing := UserProgress{}
	found, err := m.store.GetJSON(ctx, userKey(tripID, userID), &existing)
	if err != nil {
		return UserProgress{}, err
	}
	if found {
		progress = existing
	}

	if err := m.store.SetJSON(ctx, userKey(tripID, userID), progress); err != nil {
		return UserProgress{}, err
	}

	gate := GateEntry{}
	if idx, ok, err := m.store.GetInt(ctx, expIndexKey(tripID)); err != nil {
		return UserProgress{}, err
	} else if ok {
		gate.Finished = progress.FinishedAt(int(idx))
	}
	if err := m.store.HSetJSON(ctx, gateKey(tripID), userID, gate); err != nil {
		return UserProgress{}, err
	}

	if err := m.store.SetRank(ctx, leaderboardKey(tripID), userID, float64(progress.TotalScore())); err != nil {
		return UserProgress{}, err
	}

	progress.UserID = userID
	return progress, nil
}

// RemoveParticipant deletes the participant's progress record, leaderboard
// entry and gate entry. Any of the three finding nothing fails the call with
// NotFound; deletions already performed are not rolled back.
func (m *Manager) RemoveParticipant(ctx context.Context, tripID, userID string) error {
	n, err := m.store.Del(ctx, userKey(tripID, userID))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, source, "participant record not found")
	}

	removed, err := m.store.RemoveRank(ctx, leaderboardKey(tripID), userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.New(apperr.KindNotFound, source, "participant not on leaderboard")
	}

	deleted, err := m.store.HDel(ctx, gateKey(tripID), userID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.New(apperr.KindNotFound, source, "participant not in arrival gate")
	}
	return nil
}

// DetachParticipant removes a participant from the live tracking sets
// (leaderboard and arrival gate) while keeping the progress record, so a
// later rejoin resumes with earned scores intact. Used on connection loss.
func (m *Manager) DetachParticipant(ctx context.Context, tripID, userID string) error {
	removed, err := m.store.RemoveRank(ctx, leaderboardKey(tripID), userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.New(apperr.KindNotFound, source, "participant not on leaderboard")
	}

	deleted, err := m.store.HDel(ctx, gateKey(tripID), userID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.New(apperr.KindNotFound, source, "participant not in arrival gate")
	}
	return nil
}

// UpdateProgress merges patch into the participant record. When the patch
// carries scores the leaderboard score is recomputed as their sum and
// rewritten.
func (m *Manager) UpdateProgress(ctx context.Context, tripID, userID string, patch ProgressPatch) (UserProgress, error) {
	mu := m.lock(tripID, userID)
	mu.Lock()
	defer mu.Unlock()
	return m.updateProgressLocked(ctx, tripID, userID, patch)
}

func (m *Manager) updateProgressLocked(ctx context.Context, tripID, userID string, patch ProgressPatch) (UserProgress, error) {
	var progress UserProgress
	found, err := m.store.GetJSON(ctx, userKey(tripID, userID), &progress)
	if err != nil {
		return UserProgress{}, err
	}
	if !found {
		return UserProgress{}, apperr.New(apperr.KindNotFound, source, "participant record not found")
	}

	if patch.Name != nil {
		progress.Name = *patch.Name
	}
	if patch.ImageURL != nil {
		progress.ImageURL = *patch.ImageURL
	}
	if patch.Scores != nil {
		progress.Scores = patch.Scores
	}
	if patch.Finished != nil {
		progress.Finished = patch.Finished
	}

	if err := m.store.SetJSON(ctx, userKey(tripID, userID), progress); err != nil {
		return UserProgress{}, err
	}

	if patch.Scores != nil {
		if err := m.store.SetRank(ctx, leaderboardKey(tripID), userID, float64(progress.TotalScore())); err != nil {
			return UserProgress{}, err
		}
	}

	progress.UserID = userID
	return progress, nil
}

// Progress reads a participant record.
func (m *Manager) Progress(ctx context.Context, tripID, userID string) (UserProgress, error) {
	var progress UserProgress
	found, err := m.store.GetJSON(ctx, userKey(tripID, userID), &progress)
	if err != nil {
		return UserProgress{}, err
	}
	if !found {
		return UserProgress{}, apperr.New(apperr.KindNotFound, source, "participant record not found")
	}
	progress.UserID = userID
	return progress, nil
}

// Leaderboard returns all participants ordered by score, highest first.
func (m *Manager) Leaderboard(ctx context.Context, tripID string) ([]LeaderboardEntry, error) {
	members, err := m.store.RankedMembers(ctx, leaderboardKey(tripID))
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(members))
	for _, mem := range members {
		entries = append(entries, LeaderboardEntry{UserID: mem.Member, Score: int(mem.Score)})
	}
	return entries, nil
}

// ParticipantIDs lists the participants currently tracked in a session,
// derived from the stored progress keys rather than the leaderboard, which
// may momentarily diverge during joins and removals.
func (m *Manager) ParticipantIDs(ctx context.Context, tripID string) ([]string, error) {
	keys, err := m.store.ScanKeys(ctx, userKeyPattern(tripID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := userIDFromKey(key); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Manager) gateEntries(ctx context.Context, tripID string) (map[string]GateEntry, error) {
	raw, err := m.store.HGetAllRaw(ctx, gateKey(tripID))
	if err != nil {
		return nil, err
	}
	entries := make(map[string]GateEntry, len(raw))
	for userID, value := range raw {
		var entry GateEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, source, err)
		}
		entries[userID] = entry
	}
	return entries, nil
}
