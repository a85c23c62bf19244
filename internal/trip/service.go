package trip

import (
	"context"
	"log"

	"backend-triptrack/internal/session"

	"github.com/google/uuid"
)

// Service reconciles the durable trip record with its ephemeral session:
// starting a trip seeds session state from the trip definition, ending it
// folds the leaderboard back into the durable participants list and clears
// the session.
type Service struct {
	repo     *Repository
	sessions *session.Manager
}

func NewService(repo *Repository, sessions *session.Manager) *Service {
	return &Service{repo: repo, sessions: sessions}
}

func (s *Service) Create(ctx context.Context, input Trip) (Trip, error) {
	return s.repo.Create(ctx, input)
}

func (s *Service) Get(ctx context.Context, id string) (Trip, error) {
	return s.repo.ByID(ctx, id)
}

func (s *Service) List(ctx context.Context, creatorID string, page, limit int) ([]Trip, error) {
	return s.repo.ByCreator(ctx, creatorID, page, limit)
}

func (s *Service) Update(ctx context.Context, id, actorID string, patch Trip) (Trip, error) {
	return s.repo.UpdateMeta(ctx, id, actorID, patch)
}

// Start transitions the trip to started and seeds the session: one inactive
// experience entry per stop-with-experience, the shared pointer at zero and
// gate entries for participants already on the leaderboard. Only the creator
// may start, and not a trip already started or completed.
func (s *Service) Start(ctx context.Context, tripID, actorID string) (Trip, error) {
	trip, err := s.repo.UpdateStatusChecked(ctx, tripID, actorID, StatusStarted,
		[]Status{StatusStarted, StatusCompleted}, "start")
	if err != nil {
		return Trip{}, err
	}

	leaderboard, err := s.sessions.Leaderboard(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}
	ids := make([]string, 0, len(leaderboard))
	for _, entry := range leaderboard {
		ids = append(ids, entry.UserID)
	}

	if err := s.sessions.Seed(ctx, tripID, trip.ExperienceCount(), ids); err != nil {
		return Trip{}, err
	}
	return trip, nil
}

// End folds the live leaderboard into the durable participants list and
// tears the session down. Guest identities are session-only and are dropped
// from the durable list. The status transition and the participant rewrite
// commit together. Per-member cleanup is best effort: a failed removal is
// logged and the remaining keys are still swept.
func (s *Service) End(ctx context.Context, tripID, actorID string) (Trip, error) {
	leaderboard, err := s.sessions.Leaderboard(ctx, tripID)
	if err != nil {
		return Trip{}, err
	}

	participants := make([]Participant, 0, len(leaderboard))
	for _, entry := range leaderboard {
		if uuid.Validate(entry.UserID) != nil {
			continue
		}
		participants = append(participants, Participant{UserID: entry.UserID, Score: entry.Score})
	}

	trip, err := s.repo.FinishWithParticipants(ctx, tripID, actorID, participants)
	if err != nil {
		return Trip{}, err
	}

	for _, entry := range leaderboard {
		if err := s.sessions.RemoveParticipant(ctx, tripID, entry.UserID); err != nil {
			log.Printf("end trip %s: cleanup of participant %s failed: %v", tripID, entry.UserID, err)
		}
	}
	if err := s.sessions.Teardown(ctx, tripID); err != nil {
		return Trip{}, err
	}
	return trip, nil
}

// Delete removes a trip that has not started, together with any stray
// session keys.
func (s *Service) Delete(ctx context.Context, tripID, actorID string) error {
	if err := s.repo.DeleteChecked(ctx, tripID, actorID, []Status{StatusStarted, StatusCompleted}); err != nil {
		return err
	}
	return s.sessions.Teardown(ctx, tripID)
}

// Leaderboard exposes the live session leaderboard at the REST boundary.
func (s *Service) Leaderboard(ctx context.Context, tripID string) ([]session.LeaderboardEntry, error) {
	return s.sessions.Leaderboard(ctx, tripID)
}
