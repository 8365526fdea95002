package domain

import (
	"errors"
)

// DefaultPageSize and MaxPageSize bound list requests
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	ErrDiscoverNotFound     = errors.New("discover not found")
	ErrDraftNotFound        = errors.New("draft not found")
	ErrConnectorTagNotFound = errors.New("connector tag not found")
)
