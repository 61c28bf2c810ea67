package services

import "errors"

// ErrNoCounts is returned when an export is requested before any counts
// were published
var ErrNoCounts = errors.New("no counts available")
