package model

import (
	"sort"
	"time"

	"keyracer/internal/errs"
)

type RaceStatus string

const (
	RaceForming   RaceStatus = "forming"
	RaceCountdown RaceStatus = "countdown"
	RaceActive    RaceStatus = "active"
	RaceFinished  RaceStatus = "finished"
	RaceAbandoned RaceStatus = "abandoned"
)

type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// Participant is one racer inside a session.
type Participant struct {
	UserID     string          `json:"userId" bson:"userId"`
	Username   string          `json:"username" bson:"username"`
	CharsTyped int             `json:"charsTyped" bson:"charsTyped"`
	Errors     int             `json:"errors" bson:"errors"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
	Connection ConnectionState `json:"connection" bson:"connection"`
	JoinedAt   time.Time       `json:"joinedAt" bson:"joinedAt"`
	JoinOrder  int             `json:"joinOrder" bson:"joinOrder"`
}

// WPM computes words per minute using the standard 5-chars-per-word rule.
func (p *Participant) WPM(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(p.CharsTyped) / 5.0 / elapsed.Minutes()
}

// Accuracy is the fraction of correct keystrokes, in [0,1].
func (p *Participant) Accuracy() float64 {
	total := p.CharsTyped + p.Errors
	if total == 0 {
		return 1
	}
	return float64(p.CharsTyped) / float64(total)
}

// RaceSession is the live state of one race room. All mutation goes
// through the transition methods below; each validates the current
// status first and leaves the session untouched on error.
type RaceSession struct {
	RoomID       string                  `json:"roomId" bson:"roomId"`
	Status       RaceStatus              `json:"status" bson:"status"`
	Text         string                  `json:"text" bson:"text"`
	Language     string                  `json:"language" bson:"language"`
	Participants map[string]*Participant `json:"participants" bson:"participants"`
	CreatedAt    time.Time               `json:"createdAt" bson:"createdAt"`
	StartedAt    *time.Time              `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	DeadlineAt   *time.Time              `json:"deadlineAt,omitempty" bson:"deadlineAt,omitempty"`
	Version      uint64                  `json:"version" bson:"version"`
}

// NewRaceSession creates a Forming session for a room.
func NewRaceSession(roomID, text, language string) *RaceSession {
	return &RaceSession{
		RoomID:       roomID,
		Status:       RaceForming,
		Text:         text,
		Language:     language,
		Participants: make(map[string]*Participant),
		CreatedAt:    time.Now(),
	}
}

// Terminal reports whether the session reached a final status.
func (s *RaceSession) Terminal() bool {
	return s.Status == RaceFinished || s.Status == RaceAbandoned
}

// Join adds a participant, or marks an existing one reconnected.
// New racers are accepted only before the start; reconnects work in
// any non-terminal state. An ended race admits nobody.
func (s *RaceSession) Join(userID, username string) error {
	if s.Terminal() {
		return errs.Validation("race.join", "race already ended")
	}
	if p, ok := s.Participants[userID]; ok {
		p.Connection = Connected
		return nil
	}
	if s.Status != RaceForming && s.Status != RaceCountdown {
		return errs.Conflict("race.join", "race already started")
	}
	s.Participants[userID] = &Participant{
		UserID:     userID,
		Username:   username,
		Connection: Connected,
		JoinedAt:   time.Now(),
		JoinOrder:  len(s.Participants),
	}
	return nil
}

// Leave removes a participant before the start, or marks them
// disconnected once the race is running.
func (s *RaceSession) Leave(userID string) error {
	p, ok := s.Participants[userID]
	if !ok {
		return errs.NotFound("race.leave", "participant not in race")
	}
	if s.Status == RaceForming || s.Status == RaceCountdown {
		delete(s.Participants, userID)
		return nil
	}
	p.Connection = Disconnected
	return nil
}

// StartCountdown moves Forming -> Countdown once enough racers joined.
func (s *RaceSession) StartCountdown(minParticipants int) error {
	if s.Status != RaceForming {
		return errs.Conflict("race.countdown", "race is not forming")
	}
	if len(s.Participants) < minParticipants {
		return errs.Validation("race.countdown", "not enough participants")
	}
	s.Status = RaceCountdown
	return nil
}

// Activate moves Countdown -> Active and arms the deadline.
func (s *RaceSession) Activate(maxDuration time.Duration) error {
	if s.Status != RaceCountdown {
		return errs.Conflict("race.activate", "race is not in countdown")
	}
	now := time.Now()
	deadline := now.Add(maxDuration)
	s.Status = RaceActive
	s.StartedAt = &now
	s.DeadlineAt = &deadline
	return nil
}

// ReportProgress records a typing update. Progress never moves
// backwards; a lower charsTyped is rejected without mutating.
func (s *RaceSession) ReportProgress(userID string, charsTyped, errors int) error {
	if s.Status != RaceActive {
		return errs.Conflict("race.progress", "race is not active")
	}
	p, ok := s.Participants[userID]
	if !ok {
		return errs.NotFound("race.progress", "participant not in race")
	}
	if charsTyped < p.CharsTyped {
		return errs.Validation("race.progress", "charsTyped cannot decrease")
	}
	if charsTyped > len(s.Text) {
		return errs.Validation("race.progress", "charsTyped exceeds passage length")
	}
	p.CharsTyped = charsTyped
	p.Errors = errors
	return nil
}

// FinishParticipant marks a racer done. Returns true when the whole
// session transitioned to Finished.
func (s *RaceSession) FinishParticipant(userID string, now time.Time) (bool, error) {
	if s.Status != RaceActive {
		return false, errs.Conflict("race.finish", "race is not active")
	}
	p, ok := s.Participants[userID]
	if !ok {
		return false, errs.NotFound("race.finish", "participant not in race")
	}
	if p.FinishedAt == nil {
		t := now
		p.FinishedAt = &t
	}
	if s.allFinished() || (s.DeadlineAt != nil && !now.Before(*s.DeadlineAt)) {
		s.Status = RaceFinished
		return true, nil
	}
	return false, nil
}

// CompleteByDeadline forces Active -> Finished on timeout. Racers who
// never finished keep a nil FinishedAt and rank after all finishers.
func (s *RaceSession) CompleteByDeadline(now time.Time) error {
	if s.Status != RaceActive {
		return errs.Conflict("race.timeout", "race is not active")
	}
	if s.DeadlineAt != nil && now.Before(*s.DeadlineAt) {
		return errs.Conflict("race.timeout", "deadline not reached")
	}
	s.Status = RaceFinished
	return nil
}

// Abandon moves any non-terminal status to Abandoned.
func (s *RaceSession) Abandon() error {
	if s.Terminal() {
		return errs.Conflict("race.abandon", "race already ended")
	}
	s.Status = RaceAbandoned
	return nil
}

func (s *RaceSession) allFinished() bool {
	for _, p := range s.Participants {
		if p.FinishedAt == nil {
			return false
		}
	}
	return len(s.Participants) > 0
}

// RankedParticipant is one row of a final ranking.
type RankedParticipant struct {
	Rank        int     `json:"rank" bson:"rank"`
	UserID      string  `json:"userId" bson:"userId"`
	Username    string  `json:"username" bson:"username"`
	CharsTyped  int     `json:"charsTyped" bson:"charsTyped"`
	WPM         float64 `json:"wpm" bson:"wpm"`
	Accuracy    float64 `json:"accuracy" bson:"accuracy"`
	Finished    bool    `json:"finished" bson:"finished"`
	FinishedSec float64 `json:"finishedSec,omitempty" bson:"finishedSec,omitempty"`
}

// FinalRanking orders participants: finishers by finish time, then
// non-finishers by progress, join order as the stable tiebreak.
func (s *RaceSession) FinalRanking() []RankedParticipant {
	ps := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		ps = append(ps, p)
	}
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch {
		case a.FinishedAt != nil && b.FinishedAt != nil:
			if !a.FinishedAt.Equal(*b.FinishedAt) {
				return a.FinishedAt.Before(*b.FinishedAt)
			}
			return a.JoinOrder < b.JoinOrder
		case a.FinishedAt != nil:
			return true
		case b.FinishedAt != nil:
			return false
		default:
			if a.CharsTyped != b.CharsTyped {
				return a.CharsTyped > b.CharsTyped
			}
			return a.JoinOrder < b.JoinOrder
		}
	})

	ranking := make([]RankedParticipant, len(ps))
	for i, p := range ps {
		r := RankedParticipant{
			Rank:       i + 1,
			UserID:     p.UserID,
			Username:   p.Username,
			CharsTyped: p.CharsTyped,
			Accuracy:   p.Accuracy(),
			Finished:   p.FinishedAt != nil,
		}
		if s.StartedAt != nil {
			end := time.Now()
			if p.FinishedAt != nil {
				end = *p.FinishedAt
				r.FinishedSec = end.Sub(*s.StartedAt).Seconds()
			} else if s.DeadlineAt != nil {
				end = *s.DeadlineAt
			}
			r.WPM = p.WPM(end.Sub(*s.StartedAt))
		}
		ranking[i] = r
	}
	return ranking
}

// Clone deep-copies the session so callers can hold a snapshot
// without referencing live cache state.
func (s *RaceSession) Clone() *RaceSession {
	c := *s
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		if p.FinishedAt != nil {
			t := *p.FinishedAt
			cp.FinishedAt = &t
		}
		c.Participants[id] = &cp
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.DeadlineAt != nil {
		t := *s.DeadlineAt
		c.DeadlineAt = &t
	}
	return &c
}
