package shared

import "errors"

// ErrNotReady indicates a dependency was not wired at startup.
var ErrNotReady = errors.New("dependency not initialised")
