package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(trace *[]string, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		*trace = append(*trace, name)
		return err
	}
}

func TestSaga_AllStepsSucceed(t *testing.T) {
	var trace []string
	err := New("ok").
		Add(Step{Name: "a", Action: recorder(&trace, "a", nil), Compensate: recorder(&trace, "undo a", nil)}).
		Add(Step{Name: "b", Action: recorder(&trace, "b", nil)}).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, trace)
}

func TestSaga_CompensatesInReverse(t *testing.T) {
	var trace []string
	boom := errors.New("boom")

	err := New("rollback").
		Add(Step{Name: "a", Action: recorder(&trace, "a", nil), Compensate: recorder(&trace, "undo a", nil)}).
		Add(Step{Name: "b", Action: recorder(&trace, "b", nil), Compensate: recorder(&trace, "undo b", nil)}).
		Add(Step{Name: "c", Action: recorder(&trace, "c", boom), Compensate: recorder(&trace, "undo c", nil)}).
		Add(Step{Name: "d", Action: recorder(&trace, "d", nil), Compensate: recorder(&trace, "undo d", nil)}).
		Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCompensationFailure(err))
	assert.Equal(t, []string{"a", "b", "c", "undo c", "undo b", "undo a"}, trace)
}

func TestSaga_CompensationFailure(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	stuck := errors.New("stuck")

	err := New("broken").
		Add(Step{Name: "a", Action: recorder(&trace, "a", nil), Compensate: recorder(&trace, "undo a", stuck)}).
		Add(Step{Name: "b", Action: recorder(&trace, "b", boom)}).
		Run(context.Background())

	require.Error(t, err)
	assert.True(t, IsCompensationFailure(err))
	assert.ErrorIs(t, err, boom)

	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, stuck, ce.Failed["a"])
	assert.Equal(t, []string{"a", "b", "undo a"}, trace)
}

func TestSaga_CompensatesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	compensated := false

	err := New("cancel").
		Add(Step{
			Name:   "a",
			Action: func(context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				compensated = ctx.Err() == nil
				return nil
			},
		}).
		Add(Step{Name: "b", Action: func(context.Context) error {
			cancel()
			return context.Canceled
		}}).
		Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, compensated)
}
