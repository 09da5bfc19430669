package models

import "time"

// Session is the authenticated staff session issued by the registry API.
type Session struct {
	Token    string    `json:"token"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	IssuedAt time.Time `json:"issued_at"`
}

// Valid reports whether the session carries a token.
func (s *Session) Valid() bool {
	return s != nil && s.Token != ""
}
