package live

import (
	"sort"

	"liveclass/internal/roster"
)

// Match pairs an expected member with the live participant identified as them.
type Match struct {
	Member      roster.Member `json:"member"`
	Participant Participant   `json:"participant"`
	// Learned is true when the pairing came from the learned identity map rather than a name match.
	Learned bool `json:"learned"`
}

// View is the reconciled dashboard payload pushed to subscribers.
type View struct {
	SessionID        string          `json:"sessionId"`
	Topic            string          `json:"topic"`
	StartTime        string          `json:"startTime,omitempty"`
	IsLive           bool            `json:"isLive"`
	ParticipantCount int             `json:"participantCount"`
	Matched          []Match         `json:"matched"`
	Absent           []roster.Member `json:"expectedButAbsent"`
	Unmatched        []Participant   `json:"unmatchedLive"`
}

// Reconcile splits the live roster against the expected attendees. learned maps normalized
// display names to member ids. It is pure: the same inputs always give the same output.
func Reconcile(expected []roster.Member, live []Participant, learned map[string]string) (matched []Match, absent []roster.Member, unmatched []Participant) {
	byID := make(map[string]int, len(expected))
	byName := make(map[string]int, len(expected))
	for i, m := range expected {
		byID[m.ID] = i
		if name := roster.NormalizeName(m.Name); name != "" {
			if _, dup := byName[name]; !dup {
				byName[name] = i
			}
		}
	}

	taken := make([]bool, len(expected))
	ordered := make([]Participant, len(live))
	copy(ordered, live)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	// Learned identities take precedence over plain name equality.
	var pending []Participant
	for _, p := range ordered {
		name := roster.NormalizeName(p.DisplayName)
		if memberID, ok := learned[name]; ok {
			if i, ok := byID[memberID]; ok && !taken[i] {
				taken[i] = true
				matched = append(matched, Match{Member: expected[i], Participant: p, Learned: true})
				continue
			}
		}
		pending = append(pending, p)
	}
	for _, p := range pending {
		if i, ok := byName[roster.NormalizeName(p.DisplayName)]; ok && !taken[i] {
			taken[i] = true
			matched = append(matched, Match{Member: expected[i], Participant: p})
			continue
		}
		unmatched = append(unmatched, p)
	}
	for i, m := range expected {
		if !taken[i] {
			absent = append(absent, m)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Member.ID < matched[j].Member.ID })
	sort.Slice(absent, func(i, j int) bool { return absent[i].ID < absent[j].ID })
	return matched, absent, unmatched
}

// BuildView reconciles a snapshot into the subscriber payload.
func BuildView(s Snapshot, expected []roster.Member, learned map[string]string) View {
	matched, absent, unmatched := Reconcile(expected, s.Participants, learned)
	v := View{
		SessionID:        s.SessionID,
		Topic:            s.Topic,
		IsLive:           s.IsLive,
		ParticipantCount: s.ParticipantCount(),
		Matched:          nonNil(matched),
		Absent:           nonNil(absent),
		Unmatched:        nonNil(unmatched),
	}
	if !s.StartTime.IsZero() {
		v.StartTime = s.StartTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
