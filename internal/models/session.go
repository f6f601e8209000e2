package models

import "time"

// AnswerSnapshot is the working copy of an in-progress attempt as held in
// ephemeral state.
type AnswerSnapshot struct {
	Answers        map[string]string `json:"answers"`
	ElapsedSeconds int               `json:"elapsed_seconds"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	LastActivityAt *time.Time        `json:"last_activity_at,omitempty"`
}

func NewAnswerSnapshot() *AnswerSnapshot {
	return &AnswerSnapshot{Answers: make(map[string]string)}
}

func (s *AnswerSnapshot) IsEmpty() bool {
	return s == nil || (len(s.Answers) == 0 && s.ElapsedSeconds == 0)
}
