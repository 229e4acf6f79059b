package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCriteriaMatches(t *testing.T) {
	alice := int64(3)
	task := Task{ID: 1, Title: "a", Status: "TODO", Priority: "HIGH", AssignedTo: &alice}
	unassigned := Task{ID: 2, Title: "b", Status: "TODO", Priority: "LOW"}

	assert.True(t, FilterCriteria{}.Matches(task))
	assert.True(t, FilterCriteria{Status: StringPtr("TODO")}.Matches(task))
	assert.False(t, FilterCriteria{Status: StringPtr("DONE")}.Matches(task))
	assert.True(t, FilterCriteria{Priority: StringPtr("HIGH"), AssignedTo: Int64Ptr(3)}.Matches(task))
	assert.False(t, FilterCriteria{AssignedTo: Int64Ptr(3)}.Matches(unassigned))
	assert.False(t, FilterCriteria{AssignedTo: Int64Ptr(4)}.Matches(task))
}

func TestChangeEventDecodingIgnoresOptimisticField(t *testing.T) {
	raw := `{"entity":"task","action":"CREATED","data":{"id":9,"title":"x","status":"TODO","priority":"MED","assigned_to":null,"assigned_username":null,"is_deleted":false,"updated_at":"2024-03-01T10:00:00.123456Z","optimistic":true}}`

	var event ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	require.NotNil(t, event.Data)
	assert.Equal(t, ActionCreated, event.Action)
	assert.False(t, event.Data.Optimistic)
	assert.Nil(t, event.Data.AssignedTo)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC).UnixNano(), event.Data.Version())
}

func TestEmptyCriteriaOmitsKeys(t *testing.T) {
	payload, err := json.Marshal(FilterCriteria{Priority: StringPtr("LOW")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"priority":"LOW"}`, string(payload))
}

func TestTaskDecodesUpdatedAtForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2024-05-01T10:00:00.123456Z"`, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"offset", `"2024-05-01T12:00:00+02:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"no zone is utc", `"2024-05-01T10:00:00.123456"`, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"space separated", `"2024-05-01 10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"epoch seconds", `1714557600`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"fractional epoch", `1714557600.25`, time.Date(2024, 5, 1, 10, 0, 0, 250000000, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var task Task
			require.NoError(t, json.Unmarshal([]byte(`{"id":1,"title":"x","updated_at":`+tc.raw+`}`), &task))
			assert.Equal(t, int64(1), task.ID)
			assert.Equal(t, "x", task.Title)
			assert.True(t, tc.want.Equal(task.UpdatedAt), "got %s", task.UpdatedAt)
			assert.Equal(t, tc.want.UnixNano(), task.Version())
		})
	}
}

func TestTaskDecodesMissingOrNullUpdatedAtAsZero(t *testing.T) {
	for _, raw := range []string{`{"id":1}`, `{"id":1,"updated_at":null}`, `{"id":1,"updated_at":""}`} {
		var task Task
		require.NoError(t, json.Unmarshal([]byte(raw), &task), raw)
		assert.True(t, task.UpdatedAt.IsZero(), raw)
		assert.Equal(t, int64(0), task.Version(), raw)
	}
}

func TestTaskRejectsUnreadableUpdatedAt(t *testing.T) {
	var task Task
	err := json.Unmarshal([]byte(`{"id":1,"updated_at":"yesterday"}`), &task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updated_at")

	err = json.Unmarshal([]byte(`{"id":1,"updated_at":true}`), &task)
	require.Error(t, err)
}

func TestBulkListWithZonelessTimestampsDecodes(t *testing.T) {
	raw := `[{"id":1,"title":"a","updated_at":"2024-05-01T10:00:00"},{"id":2,"title":"b","updated_at":"2024-05-01T10:00:01Z"}]`
	var tasks []Task
	require.NoError(t, json.Unmarshal([]byte(raw), &tasks))
	require.Len(t, tasks, 2)
	assert.Less(t, tasks[0].Version(), tasks[1].Version())
}
