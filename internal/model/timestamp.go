package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ParseTimestamp decodes an updated_at value in any form the task servers
// send it: RFC 3339, an ISO date-time without zone (read as UTC), or epoch
// seconds. Null and empty strings give the zero time.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	value := bytes.TrimSpace(raw)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return time.Time{}, nil
	}

	if value[0] == '"' {
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			return time.Time{}, errors.Wrap(err, "updated_at")
		}
		if strings.TrimSpace(text) == "" {
			return time.Time{}, nil
		}
		parsed, err := cast.ToTimeInDefaultLocationE(strings.TrimSpace(text), time.UTC)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "updated_at %q", text)
		}
		return parsed, nil
	}

	seconds, err := strconv.ParseFloat(string(value), 64)
	if err != nil {
		return time.Time{}, errors.Errorf("updated_at: unsupported value %s", value)
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), nil
}

// UnmarshalJSON accepts every updated_at form ParseTimestamp does.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var wire struct {
		plain
		UpdatedAt json.RawMessage `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	updated, err := ParseTimestamp(wire.UpdatedAt)
	if err != nil {
		return err
	}
	*t = Task(wire.plain)
	t.UpdatedAt = updated
	return nil
}
