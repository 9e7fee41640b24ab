package domain

import "time"

// CachedResponse is a stored final answer keyed by normalized query hash.
type CachedResponse struct {
	Hash      string    `json:"hash"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Model     string    `json:"model,omitempty"`
	Hits      int       `json:"hits"`
	LastHitAt time.Time `json:"last_hit_at,omitzero"`
	CreatedAt time.Time `json:"created_at"`
}
