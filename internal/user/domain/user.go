package domain

import "time"

type ID string

// Account is the slice of a user record the hub needs to admit a connection.
type Account struct {
	ID         ID
	Username   string
	IsActive   bool
	LastSeenAt *time.Time
}
