package sources

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/jonathan/wallpaper-archiver/internal/logging"
)

// decodeRecords decodes every raw record into T on its own. A record that
// does not fit T is logged and skipped; the rest of the listing survives.
func decodeRecords[T any](raw []json.RawMessage, log *logging.Logger, source string) []T {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logOrNop(log).WithSource(source).WithError(err).Debug("skipping malformed record", "index", i)
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeRecordMap is decodeRecords for listings keyed by id.
func decodeRecordMap[T any](raw map[string]json.RawMessage, log *logging.Logger, source string) map[string]T {
	out := make(map[string]T, len(raw))
	for k, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logOrNop(log).WithSource(source).WithError(err).Debug("skipping malformed record", "id", k)
			continue
		}
		out[k] = v
	}
	return out
}

func logOrNop(log *logging.Logger) *logging.Logger {
	if log == nil {
		return logging.Nop()
	}
	return log
}

// flexString decodes a JSON string or number into a string. Upstream
// catalogs are inconsistent about the type of their ids and sizes.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Int returns the value as an int, or zero when it is not numeric.
func (f flexString) Int() int {
	n, err := strconv.Atoi(string(f))
	if err != nil {
		return 0
	}
	return n
}
