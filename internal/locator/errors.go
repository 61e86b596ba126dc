package locator

import "errors"

var (
	// ErrNotFound means the requested remote URL is not registered.
	ErrNotFound = errors.New("mirror not registered")
	// ErrDisabled means the mirror is disabled and cannot be activated.
	ErrDisabled = errors.New("mirror disabled")
	// ErrEmptyURL means the mirror has no remote URL.
	ErrEmptyURL = errors.New("mirror remote URL is empty")
	// ErrManifestLoad means the mirror's catalog could not be loaded.
	ErrManifestLoad = errors.New("catalog load failed")
	// ErrCancelled means the caller's context ended before the activation committed.
	ErrCancelled = errors.New("activation cancelled")
	// ErrNoMirrors means there is nothing to race.
	ErrNoMirrors = errors.New("no enabled mirrors registered")
	// ErrUnreachable means no mirror answered a probe.
	ErrUnreachable = errors.New("no mirror reachable")
	// ErrGloballyDisabled means remote mirrors are switched off in the configuration.
	ErrGloballyDisabled = errors.New("remote mirrors disabled")
)
