package pages

import "errors"

// Repository errors.
var (
	ErrPageNotFound = errors.New("page not found")
)
