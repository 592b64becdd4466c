package repository

import "errors"

// ErrNotFound is returned by Get when nothing is stored under the key.
//
// The store layer checks for it and treats the state as empty, so backend
// specific errors (`sql.ErrNoRows`, `redis.Nil`, a missing bolt bucket) never
// leak past this package.
var ErrNotFound = errors.New("repository: not found")
