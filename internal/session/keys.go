package session

import "strings"

// Redis key schema for one trip's session. All keys share the trip id so a
// session can be torn down as a unit.

func userKey(tripID, userID string) string {
	return "trip_user:" + tripID + ":" + userID
}

func userKeyPattern(tripID string) string {
	return "trip_user:" + tripID + ":*"
}

func leaderboardKey(tripID string) string {
	return "trip_leaderboard:" + tripID
}

func experiencesKey(tripID string) string {
	return "trip_experiences:" + tripID
}

func gateKey(tripID string) string {
	return "trip_gate:" + tripID
}

func expIndexKey(tripID string) string {
	return "trip_exp_index:" + tripID
}

// userIDFromKey extracts the participant id from a trip_user key. User ids
// never contain ':' so the third segment onward is the id only when the key
// is well formed.
func userIDFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
