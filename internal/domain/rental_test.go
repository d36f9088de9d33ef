package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRentalTransitions(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		path := []RentalStatus{
			RentalStatusPendingAssignment,
			RentalStatusAwaitingBatteryAssignment,
			RentalStatusAwaitingContractSigning,
			RentalStatusActive,
			RentalStatusPendingReturn,
			RentalStatusAwaitingReturnSignature,
			RentalStatusCompleted,
		}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s -> %s", path[i], path[i+1])
		}
	})

	t.Run("NoSkipsOrReversals", func(t *testing.T) {
		assert.False(t, RentalStatusAwaitingBatteryAssignment.CanTransitionTo(RentalStatusActive))
		assert.False(t, RentalStatusActive.CanTransitionTo(RentalStatusAwaitingContractSigning))
		assert.False(t, RentalStatusOverdue.CanTransitionTo(RentalStatusActive))
		assert.False(t, RentalStatusActive.CanTransitionTo(RentalStatusRejected))
	})

	t.Run("OverdueExits", func(t *testing.T) {
		assert.ElementsMatch(t, []RentalStatus{RentalStatusPendingReturn, RentalStatusAwaitingReturnSignature}, rentalTransitions[RentalStatusOverdue])
		assert.False(t, RentalStatusOverdue.CanTransitionTo(RentalStatusCompleted))
	})

	t.Run("TerminalStatesHaveNoExits", func(t *testing.T) {
		for _, s := range []RentalStatus{RentalStatusCompleted, RentalStatusCompletedByAdmin, RentalStatusRejected} {
			assert.True(t, s.IsTerminal())
			assert.Empty(t, rentalTransitions[s])
		}
	})

	t.Run("InventoryHolding", func(t *testing.T) {
		assert.True(t, RentalStatusPendingReturn.HoldsInventory())
		assert.True(t, RentalStatusOverdue.HoldsInventory())
		assert.False(t, RentalStatusAwaitingReturnSignature.HoldsInventory())
		assert.False(t, RentalStatusCompleted.HoldsInventory())
	})
}

func TestTransitionErrorIsConflict(t *testing.T) {
	var err error = &TransitionError{RentalID: 3, From: RentalStatusActive, To: RentalStatusRejected}
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "active -> rejected")
}

func TestExtraData(t *testing.T) {
	base := ExtraData{"contract_url": "a"}
	merged := base.Merge(ExtraData{"defects": []string{"scratch"}})
	assert.Len(t, merged, 2)
	assert.Len(t, base, 1)

	v, err := merged.Value()
	require.NoError(t, err)

	var back ExtraData
	require.NoError(t, back.Scan(v))
	assert.Equal(t, "a", back["contract_url"])

	require.NoError(t, back.Scan(nil))
	assert.Empty(t, back)
}

func TestNormalizedPhone(t *testing.T) {
	cases := map[string]string{
		"8 (912) 345-67-89": "+79123456789",
		"+7 912 345 67 89":  "+79123456789",
		"9123456789":        "+79123456789",
		"":                  "",
	}
	for in, want := range cases {
		c := Client{Phone: in}
		assert.Equal(t, want, c.NormalizedPhone(), in)
	}
}
