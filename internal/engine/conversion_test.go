package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/variantlab/variantlab/internal/store"
)

func TestRecord_MarksAssignmentConverted(t *testing.T) {
	s := openTestStore(t)
	exp := createTestExperiment(t, s, [2]float64{50, 50})
	ctx := context.Background()

	_, _, err := s.InsertAssignmentIfAbsent(ctx, "t1", exp.ID, "alice", exp.Variants[0].ID)
	require.NoError(t, err)

	rec := NewConversionRecorder(s, zap.NewNop())
	value := 19.99
	require.NoError(t, rec.Record(ctx, "t1", exp.ID, "alice", &value))

	a, err := s.GetAssignment(ctx, "t1", exp.ID, "alice")
	require.NoError(t, err)
	assert.True(t, a.Converted)
	require.NotNil(t, a.ConversionValue)
	assert.Equal(t, 19.99, *a.ConversionValue)
}

func TestRecord_IdempotentPerVisitor(t *testing.T) {
	s := openTestStore(t)
	exp := createTestExperiment(t, s, [2]float64{50, 50})
	ctx := context.Background()

	_, _, err := s.InsertAssignmentIfAbsent(ctx, "t1", exp.ID, "alice", exp.Variants[0].ID)
	require.NoError(t, err)

	rec := NewConversionRecorder(s, zap.NewNop())
	first := 10.0
	second := 25.0
	require.NoError(t, rec.Record(ctx, "t1", exp.ID, "alice", &first))
	require.NoError(t, rec.Record(ctx, "t1", exp.ID, "alice", &second))

	// still one converted assignment; the value is last-write-wins
	a, err := s.GetAssignment(ctx, "t1", exp.ID, "alice")
	require.NoError(t, err)
	assert.True(t, a.Converted)
	assert.Equal(t, 25.0, *a.ConversionValue)

	var converted int
	err = s.DB().QueryRow(
		`SELECT COUNT(*) FROM assignments WHERE experiment_id = ? AND converted = 1`, exp.ID,
	).Scan(&converted)
	require.NoError(t, err)
	assert.Equal(t, 1, converted)
}

func TestRecord_UnattributedIsWarningNotError(t *testing.T) {
	s := openTestStore(t)
	exp := createTestExperiment(t, s, [2]float64{50, 50})

	core, logs := observer.New(zap.WarnLevel)
	rec := NewConversionRecorder(s, zap.New(core))

	// no assignment exists for this visitor
	err := rec.Record(context.Background(), "t1", exp.ID, "ghost", nil)
	require.NoError(t, err)

	entries := logs.FilterMessage("conversion without prior assignment").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)

	// and no retroactive assignment was created
	_, err = s.GetAssignment(context.Background(), "t1", exp.ID, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
