package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimestampFormat = time.RFC3339
	FieldKeyMsg            = "msg"
	FieldKeyLevel          = "level"
	FieldKeyTime           = "time"
	FieldKeyFunc           = "func"
	FieldKeyFile           = "file"
	FieldModule            = "module"
)

// ModuleName is stamped on every line so logs from several tools can share
// a sink.
const ModuleName = "tasksync"

// JSONFormatter writes one JSON object per entry. Fields that would clash
// with the fixed keys are moved under a "fields." prefix.
type JSONFormatter struct {
	TimestampFormat  string
	DisableTimestamp bool
	PrettyPrint      bool
}

func (f *JSONFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+6)
	for k, v := range entry.Data {
		switch v := v.(type) {
		case error:
			// encoding/json drops error values.
			data[k] = v.Error()
		default:
			data[k] = v
		}
	}

	prefixFieldClashes(data, entry.HasCaller())

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = defaultTimestampFormat
	}
	if !f.DisableTimestamp {
		data[FieldKeyTime] = entry.Time.Format(timestampFormat)
	}
	data[FieldKeyMsg] = entry.Message
	data[FieldKeyLevel] = entry.Level.String()
	data[FieldModule] = ModuleName
	if entry.HasCaller() {
		data[FieldKeyFunc] = entry.Caller.Function
		data[FieldKeyFile] = fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)
	}

	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	encoder := json.NewEncoder(b)
	if f.PrettyPrint {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to marshal fields to JSON, %v", err)
	}
	return b.Bytes(), nil
}

func prefixFieldClashes(data logrus.Fields, reportCaller bool) {
	keys := []string{FieldKeyTime, FieldKeyMsg, FieldKeyLevel, FieldModule}
	if reportCaller {
		keys = append(keys, FieldKeyFunc, FieldKeyFile)
	}
	for _, key := range keys {
		if v, ok := data[key]; ok {
			data["fields."+key] = v
			delete(data, key)
		}
	}
}
