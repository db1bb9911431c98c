// Package user holds the signed-in user model and the per-session
// favorites and reporting bookkeeping layered on top of the parking store.
package user

import (
	"context"
	"errors"
)

var (
	// ErrNoSession is returned by session-scoped operations before SignIn.
	ErrNoSession = errors.New("no signed-in user")
	// ErrNotFound is returned when a user id has no record.
	ErrNotFound = errors.New("user not found")
)

// Details is the per-user bookkeeping persisted alongside the account.
type Details struct {
	FavoriteParkings []string `json:"favoriteParkings"`
	ReportedParkings []string `json:"reportedParkings"`
	ReviewedParkings []string `json:"reviewedParkings"`
	ReportedImages   []string `json:"reportedImages"`
}

type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Details  Details `json:"details"`
}

// Store persists user accounts. Get returns ErrNotFound for unknown ids;
// Save is a full-record upsert.
type Store interface {
	Get(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, u User) error
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
