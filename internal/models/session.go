package models

import "time"

// LoginSession is a server-side session row created by the session login demos.
type LoginSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"-"`
	Data      string    `json:"data"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}
