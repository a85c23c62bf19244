package session

// UserProgress is a participant's ephemeral record for one trip. Scores and
// Finished are indexed by experience position and grow as experiences are
// scored.
type UserProgress struct {
	UserID   string `json:"userId,omitempty"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Scores   []int  `json:"scores"`
	Finished []bool `json:"finishedExperiences"`
}

// TotalScore is the participant's cumulative score, always the sum of the
// per-experience scores.
func (p UserProgress) TotalScore() int {
	total := 0
	for _, s := range p.Scores {
		total += s
	}
	return total
}

// FinishedAt reports whether the experience at index is already finished.
func (p UserProgress) FinishedAt(index int) bool {
	return index >= 0 && index < len(p.Finished) && p.Finished[index]
}

// ProgressPatch carries a partial update for a participant record. Nil
// fields are left untouched.
type ProgressPatch struct {
	Name     *string `json:"name,omitempty"`
	ImageURL *string `json:"imageUrl,omitempty"`
	Scores   []int   `json:"scores,omitempty"`
	Finished []bool  `json:"finishedExperiences,omitempty"`
}

// Phase is the explicit state of one experience within a running session.
type Phase string

const (
	PhaseNotReached       Phase = "notReached"
	PhaseAwaitingArrivals Phase = "awaitingArrivals"
	PhaseAwaitingFinishes Phase = "awaitingFinishes"
	PhasePassed           Phase = "passed"
)

// WinnerSlots caps how many finishers are recorded per experience.
const WinnerSlots = 3

// ExperienceState tracks one stop-with-experience: the first finishers in
// arrival order and the group's phase for it.
type ExperienceState struct {
	Winners [WinnerSlots]string `json:"winners"`
	Phase   Phase               `json:"phase"`
}

// Active reports whether the group is currently working this experience.
func (e ExperienceState) Active() bool {
	return e.Phase == PhaseAwaitingArrivals || e.Phase == PhaseAwaitingFinishes
}

// takeWinnerSlot occupies the next free slot for userID and returns its
// index, or -1 when all slots are taken. Occupied slots are never
// overwritten.
func (e *ExperienceState) takeWinnerSlot(userID string) int {
	for i, w := range e.Winners {
		if w == "" {
			e.Winners[i] = userID
			return i
		}
	}
	return -1
}

// GateEntry is one participant's arrival-gate record for the current
// experience: geofence entry and completion.
type GateEntry struct {
	InRange  bool `json:"inRange"`
	Finished bool `json:"finished"`
}

// LeaderboardEntry is one row of the score-ordered leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}
