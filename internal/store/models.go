package store

import "time"

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	HashedPassword string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMetadata is the per-chat blob stored in the user's chat hash.
// CreatedAt is Unix seconds with a fractional part, matching the wire
// format of the stored JSON.
type ChatMetadata struct {
	ID        string  `json:"id"` // UUID
	Title     string  `json:"title"`
	CreatedAt float64 `json:"created_at"`
}

// Message is one entry of a chat's append-only history list. Parts is an
// ordered sequence of text segments; in practice it always has length 1.
type Message struct {
	Role  string   `json:"role"` // "user" or "model"
	Parts []string `json:"parts"`
}
