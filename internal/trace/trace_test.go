package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Emit(ctx context.Context, ev Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestBeginKeepsExistingID(t *testing.T) {
	ctx, id := Begin(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	again, id2 := Begin(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, again)
}

func TestEmitterStampsEvent(t *testing.T) {
	rec := NewRecorder(10)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	em := &Emitter{Sink: rec, Now: func() time.Time { return fixed }}
	ctx := WithID(context.Background(), "cycle-1")

	require.NoError(t, em.Emit(ctx, Event{Name: EventDecision, Terminal: true}))

	got := rec.ByTrace("cycle-1")
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, fixed, got[0].At)
	assert.True(t, got[0].Terminal)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := new(mockSink)
	bad := new(mockSink)
	ok.On("Emit", mock.Anything, mock.Anything).Return(nil)
	bad.On("Emit", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	err := MultiSink{ok, nil, bad}.Emit(context.Background(), Event{Name: "x"})
	assert.ErrorContains(t, err, "disk full")
	ok.AssertNumberOfCalls(t, "Emit", 1)
	bad.AssertNumberOfCalls(t, "Emit", 1)
}

func TestRecorderBounded(t *testing.T) {
	rec := NewRecorder(2)
	for _, name := range []string{"a", "b", "c"} {
		_ = rec.Emit(context.Background(), Event{Name: name})
	}
	recent := rec.Recent(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Name)
	assert.Equal(t, "c", recent[1].Name)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "info", SeverityInfo.String())
}
