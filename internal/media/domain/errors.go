package domain

import "errors"

var (
	ErrInvalidGenreLink = errors.New("invalid genre link")
)
