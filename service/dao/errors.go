package dao

import "errors"

// Store errors shared by every record backend; match them with errors.Is.
var (
	ErrNotFound  = errors.New("dao: record not found")
	ErrInvalidID = errors.New("dao: empty record id")
	ErrNilEntity = errors.New("dao: nil record")
)
