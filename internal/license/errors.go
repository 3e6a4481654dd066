package license

import "errors"

var (
	// ErrNotFound indicates the license key does not exist in the store.
	ErrNotFound = errors.New("license key not found")
	// ErrAlreadyUsed indicates the license key has already been redeemed.
	ErrAlreadyUsed = errors.New("license key already used")
	// ErrPersistence indicates the license file could not be read or written.
	ErrPersistence = errors.New("license store persistence failure")
	// ErrKeyExists indicates an issued key collides with an existing one.
	ErrKeyExists = errors.New("license key already exists")
	// ErrInvalidRecord indicates a record is malformed or inconsistent.
	ErrInvalidRecord = errors.New("invalid license record")
)
