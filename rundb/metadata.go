package rundb

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/jswidler/tenantrun/errors"
)

// Metadata is the jsonb metadata column of jobs and triggers.
type Metadata map[string]string

// Value encodes m as JSON text so lib/pq sends it as jsonb rather than bytea.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, errors.WithCause(err))
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.Wrap(ErrInvalidMetadata, errors.WithMessagef("cannot scan %T into metadata", src))
	}

	out := Metadata{}
	if err := json.Unmarshal(b, &out); err != nil {
		return errors.Wrap(ErrInvalidMetadata, errors.WithCause(err))
	}
	*m = out
	return nil
}

func (m Metadata) Get(key string) string {
	return m[key]
}
