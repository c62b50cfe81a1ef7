package cmn

import (
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// GenRequestID generates a request id for route() calls whose caller did
// not supply one.
func GenRequestID() string {
	return uuid.New().String()
}

// a process-wide shortid generator; shortid.Generate() itself is safe for
// concurrent use (protected by its own package-level mutex).
func init() {
	sid, err := shortid.New(1, shortid.DefaultABC, 0xBEEF)
	if err == nil {
		shortid.SetDefault(sid)
	}
}

// GenObservabilityID generates a short id for one observability-log entry,
// distinct from the caller-supplied request id (obs package).
func GenObservabilityID() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.New().String()
	}
	return id
}
