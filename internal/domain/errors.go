package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors shared across the engine. Callers are expected to match
// them with errors.Is after wrapping.
var (
	// ErrDataUnavailable indicates an indicator or candle fetch failed.
	// Condition evaluation treats it as "not met"; cycles continue.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrWrongPassword indicates the wallet secret could not be decrypted.
	ErrWrongPassword = errors.New("wrong wallet password")

	// ErrUncertainSettlement indicates reconciliation could not determine
	// the outcome of a submitted transaction. The caller must record it
	// distinctly instead of resolving to success or failure.
	ErrUncertainSettlement = errors.New("settlement outcome uncertain, verify manually")
)

// OracleError wraps a failed decision oracle call. The affected chunk's
// decisions are dropped; remaining chunks keep going.
type OracleError struct {
	Backend string
	Err     error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Backend, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// VenueError wraps a failed venue call. Reference is set when the venue
// returned a transaction reference before failing (e.g. a submit that
// timed out waiting for confirmation); reconciliation uses it to re-check
// settlement out-of-band.
type VenueError struct {
	Venue     string
	Reference string
	Timeout   bool
	Err       error
}

func (e *VenueError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("venue %s (ref %s): %v", e.Venue, e.Reference, e.Err)
	}
	return fmt.Sprintf("venue %s: %v", e.Venue, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// Recoverable reports whether the failure carries a reference that can be
// re-checked on chain instead of being treated as a definitive failure.
func (e *VenueError) Recoverable() bool {
	return e.Timeout && e.Reference != ""
}
