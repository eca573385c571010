// Package ulid generates the lexically sortable ids of jobs, triggers and job batches.
package ulid

import (
	"github.com/oklog/ulid/v2"
)

// New returns a new ULID string. Ids made within the same millisecond still sort in creation order.
func New() string {
	return ulid.Make().String()
}
