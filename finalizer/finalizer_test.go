package finalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanupOrder(t *testing.T) {
	t.Parallel()
	var order []int
	f := NewFinalizer()
	for i := 0; i < 3; i++ {
		i := i
		f.AddFn(func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, f.Cleanup(nil))
	require.Equal(t, []int{2, 1, 0}, order)

	// Resources are released once.
	require.NoError(t, f.Cleanup(nil))
	require.Len(t, order, 3)
}

func TestCleanupErrors(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")
	f := NewFinalizer()
	f.AddFn(func() error { return nil })
	require.ErrorIs(t, f.Cleanup(cause), cause)

	f.AddFn(func() error { return errors.New("close failed") })
	err := f.Cleanupf("creating store: %v", cause)
	require.EqualError(t, err, "creating store: cause; close failed")

	f.AddFn(func() error { return nil })
	require.NoError(t, f.Cleanupf("closing service: %v", nil))
}
