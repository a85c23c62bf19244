package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend-triptrack/internal/db"
	"backend-triptrack/internal/shared/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const source = "postgres"

// Repository owns all durable trip persistence. The session layer never
// touches these tables; it only sees trips through the service.
type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, input Trip) (Trip, error) {
	input.ID = uuid.NewString()
	if input.Status == "" {
		input.Status = StatusCreated
	}
	var rewardTitle, rewardImage *string
	if input.Reward != nil {
		rewardTitle = &input.Reward.Title
		rewardImage = &input.Reward.ImageURL
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO trips (id, name, description, creator_id, guides, status, reward_title, reward_image)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, input.ID, input.Name, input.Description, input.CreatorID, input.GuideIDs, input.Status, rewardTitle, rewardImage)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}

	for i, stop := range input.Stops {
		input.Stops[i].Position = i
		var expJSON []byte
		if stop.Experience != nil {
			raw, err := json.Marshal(stop.Experience)
			if err != nil {
				return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
			}
			expJSON = raw
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO trip_stops (trip_id, position, lon, lat, address, experience)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, input.ID, i, stop.Lon, stop.Lat, stop.Address, expJSON)
		if err != nil {
			return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
		}
	}
	return input, nil
}

// ByID loads a trip with its stops and participants.
func (r *Repository) ByID(ctx context.Context, id string) (Trip, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, description, creator_id, guides, status, reward_title, reward_image, created_at
		FROM trips WHERE id=$1
	`, id)
	trip, err := scanTrip(row)
	if err != nil {
		return Trip{}, err
	}

	trip.Stops, err = r.stops(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	trip.Participants, err = r.Participants(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	return trip, nil
}

// ByCreator lists a creator's trips, newest first.
func (r *Repository) ByCreator(ctx context.Context, creatorID string, page, limit int) ([]Trip, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, creator_id, guides, status, reward_title, reward_image, created_at
		FROM trips WHERE creator_id=$1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`, creatorID, (page-1)*limit, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, source, err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// UpdateMeta patches name/description/reward while the trip has not started.
func (r *Repository) UpdateMeta(ctx context.Context, id, actorID string, patch Trip) (Trip, error) {
	trip, err := r.ByID(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	if trip.CreatorID != actorID {
		return Trip{}, apperr.New(apperr.KindForbidden, source, "you are not allowed to update this trip")
	}
	if trip.Status == StatusStarted || trip.Status == StatusCompleted {
		return Trip{}, apperr.New(apperr.KindConflict, source, fmt.Sprintf("cannot update while trip is %s", trip.Status))
	}

	if patch.Name != "" {
		trip.Name = patch.Name
	}
	if patch.Description != "" {
		trip.Description = patch.Description
	}
	if patch.Reward != nil {
		trip.Reward = patch.Reward
	}
	if patch.GuideIDs != nil {
		trip.GuideIDs = patch.GuideIDs
	}

	var rewardTitle, rewardImage *string
	if trip.Reward != nil {
		rewardTitle = &trip.Reward.Title
		rewardImage = &trip.Reward.ImageURL
	}
	_, err = r.db.Exec(ctx, `
		UPDATE trips SET name=$2, description=$3, guides=$4, reward_title=$5, reward_image=$6
		WHERE id=$1
	`, trip.ID, trip.Name, trip.Description, trip.GuideIDs, rewardTitle, rewardImage)
	if err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}
	return trip, nil
}

// UpdateStatusChecked transitions the trip's status under the shared
// precondition: the actor must be the creator and the current status must
// not be one of notAllowed. On a precondition miss a follow-up read explains
// which rule failed.
func (r *Repository) UpdateStatusChecked(ctx context.Context, id, actorID string, next Status, notAllowed []Status, action string) (Trip, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE trips SET status=$3
		WHERE id=$1 AND creator_id=$2 AND NOT (status = ANY($4))
		RETURNING id, name, description, creator_id, guides, status, reward_title, reward_image, created_at
	`, id, actorID, next, statusStrings(notAllowed))
	trip, err := scanTrip(row)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return Trip{}, r.explainFailure(ctx, id, actorID, notAllowed, action)
	}
	if err != nil {
		return Trip{}, err
	}

	trip.Stops, err = r.stops(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	trip.Participants, err = r.Participants(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	return trip, nil
}

// DeleteChecked removes the trip under the same precondition rule as status
// updates.
func (r *Repository) DeleteChecked(ctx context.Context, id, actorID string, notAllowed []Status) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM trips
		WHERE id=$1 AND creator_id=$2 AND NOT (status = ANY($3))
	`, id, actorID, statusStrings(notAllowed))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, source, err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainFailure(ctx, id, actorID, notAllowed, "delete")
	}
	return nil
}

// FinishWithParticipants transitions the trip to completed and rewrites
// the durable participants list in one transaction, so a failed rewrite
// cannot leave a completed trip without its final scores. The precondition
// rule is the same as for other status transitions.
func (r *Repository) FinishWithParticipants(ctx context.Context, id, actorID string, participants []Participant) (Trip, error) {
	notAllowed := []Status{StatusCompleted}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}

	trip, err := r.finishInTx(ctx, tx, id, actorID, notAllowed, participants)
	if err != nil {
		_ = tx.Rollback(ctx)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return Trip{}, r.explainFailure(ctx, id, actorID, notAllowed, "finish")
		}
		return Trip{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}

	trip.Stops, err = r.stops(ctx, id)
	if err != nil {
		return Trip{}, err
	}
	trip.Participants = participants
	return trip, nil
}

func (r *Repository) finishInTx(ctx context.Context, tx pgx.Tx, id, actorID string, notAllowed []Status, participants []Participant) (Trip, error) {
	row := tx.QueryRow(ctx, `
		UPDATE trips SET status=$3
		WHERE id=$1 AND creator_id=$2 AND NOT (status = ANY($4))
		RETURNING id, name, description, creator_id, guides, status, reward_title, reward_image, created_at
	`, id, actorID, StatusCompleted, statusStrings(notAllowed))
	trip, err := scanTrip(row)
	if err != nil {
		return Trip{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trip_participants WHERE trip_id=$1`, id); err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}
	for _, p := range participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO trip_participants (trip_id, user_id, score)
			VALUES ($1,$2,$3)
		`, id, p.UserID, p.Score)
		if err != nil {
			return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
		}
	}
	return trip, nil
}

// Participants reads the durable participants list.
func (r *Repository) Participants(ctx context.Context, id string) ([]Participant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, score FROM trip_participants WHERE trip_id=$1
		ORDER BY score DESC
	`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, source, err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Score); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, source, err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

func (r *Repository) stops(ctx context.Context, id string) ([]Stop, error) {
	rows, err := r.db.Query(ctx, `
		SELECT position, lon, lat, address, experience
		FROM trip_stops WHERE trip_id=$1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, source, err)
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var s Stop
		var expJSON []byte
		if err := rows.Scan(&s.Position, &s.Lon, &s.Lat, &s.Address, &expJSON); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, source, err)
		}
		if len(expJSON) > 0 {
			var exp Experience
			if err := json.Unmarshal(expJSON, &exp); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, source, err)
			}
			s.Experience = &exp
		}
		stops = append(stops, s)
	}
	return stops, nil
}

// explainFailure diagnoses why a conditional trip mutation matched no row.
func (r *Repository) explainFailure(ctx context.Context, id, actorID string, notAllowed []Status, action string) error {
	var creatorID string
	var status Status
	err := r.db.QueryRow(ctx, `SELECT creator_id, status FROM trips WHERE id=$1`, id).Scan(&creatorID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, source, "trip not found")
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, source, err)
	}
	if creatorID != actorID {
		return apperr.New(apperr.KindForbidden, source, fmt.Sprintf("you are not allowed to %s this trip", action))
	}
	for _, s := range notAllowed {
		if status == s {
			return apperr.New(apperr.KindConflict, source, fmt.Sprintf("cannot %s while trip is %s", action, status))
		}
	}
	return apperr.New(apperr.KindInternal, source, fmt.Sprintf("failed to %s trip", action))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (Trip, error) {
	var trip Trip
	var rewardTitle, rewardImage *string
	err := row.Scan(&trip.ID, &trip.Name, &trip.Description, &trip.CreatorID, &trip.GuideIDs,
		&trip.Status, &rewardTitle, &rewardImage, &trip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trip{}, apperr.New(apperr.KindNotFound, source, "trip not found")
	}
	if err != nil {
		return Trip{}, apperr.Wrap(apperr.KindInternal, source, err)
	}
	if rewardTitle != nil {
		trip.Reward = &Reward{Title: *rewardTitle}
		if rewardImage != nil {
			trip.Reward.ImageURL = *rewardImage
		}
	}
	return trip, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
