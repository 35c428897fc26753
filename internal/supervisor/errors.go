package supervisor

import "errors"

// Fatal errors abort the whole run. Errors inside a single iteration's
// monitors never reach this package - the iteration package downgrades
// those to a natural end on its own.
var (
	// ErrSpawn means the agent binary could not be started.
	ErrSpawn = errors.New("failed to spawn agent")

	// ErrKillGrace means a child refused to die within the grace period
	// after being signalled.
	ErrKillGrace = errors.New("agent did not terminate within the grace period")

	// ErrMetadataWrite means the final metadata flush failed. Intermediate
	// write failures are logged and the run continues; only a failure on
	// the terminal write is fatal.
	ErrMetadataWrite = errors.New("failed to write final run metadata")
)
