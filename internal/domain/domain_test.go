package domain

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventInProgress, EventTypeFor(StatusWorking))
	assert.Equal(t, EventCompleted, EventTypeFor(StatusIdle))
}

func TestRoleExtraRoundTrip(t *testing.T) {
	in := `{"id":"r1","name":"A & B","status":"idle","zeta":1,"alpha":{"x":true}}`
	var r Role
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	assert.Len(t, r.Extra, 2)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(r))
	assert.Equal(t, `{"id":"r1","name":"A & B","status":"idle","alpha":{"x":true},"zeta":1}`+"\n", buf.String())

	// json.Marshal always escapes HTML, extras included.
	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1","name":"A \u0026 B","status":"idle","alpha":{"x":true},"zeta":1}`, string(out))
}

func TestMetadataWithoutExtra(t *testing.T) {
	out, err := json.Marshal(Metadata{LastUpdate: "2024-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	assert.Equal(t, `{"lastUpdate":"2024-01-01T00:00:00.000Z"}`, string(out))
}

func TestValidate(t *testing.T) {
	valid := NewDocument([]Role{{ID: "r1", Name: "Alice"}}, "")
	require.NoError(t, valid.Validate())
	assert.Equal(t, 0, valid.RoleIndex("r1"))
	assert.Equal(t, -1, valid.RoleIndex("r2"))

	working := NewDocument([]Role{{ID: "r1", Name: "Alice"}}, "")
	working.Roles[0].Status = StatusWorking
	require.NoError(t, working.Validate(), "working without a task is allowed")

	noName := NewDocument([]Role{{ID: "r1"}}, "")
	require.ErrorIs(t, noName.Validate(), ErrInvalidDocument)

	noEvents := NewDocument(nil, "")
	noEvents.Events = nil
	require.ErrorIs(t, noEvents.Validate(), ErrInvalidDocument)
}
