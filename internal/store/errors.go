package store

import "errors"

// errReadBackMismatch indicates the persisted file did not match what was
// written, usually a sign of quota pressure or a misbehaving filesystem.
var errReadBackMismatch = errors.New("read-back verification mismatch")
