package domain

import "errors"

// ErrDiscoverNotFound is returned when a discover cannot be found in the database
var ErrDiscoverNotFound = errors.New("discover not found")
