package common

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestControl_Close(t *testing.T) {
	ctrl := NewControl(nil)
	assert.False(t, ctrl.IsClosed())
	assert.Nil(t, ctrl.Close())
	assert.True(t, ctrl.IsClosed())
	assert.Nil(t, ctrl.Close())
}

func TestControl_Fail(t *testing.T) {
	ctrl := NewControl(nil)

	cause := errors.New("cause")
	ctrl.Fail(cause)
	ctrl.Fail(errors.New("other"))
	assert.Equal(t, cause, ctrl.Failure())
}

func TestControl_DeferReverseOrder(t *testing.T) {
	ctrl := NewControl(nil)

	order := make([]int, 0, 2)
	ctrl.Defer(func(error) {
		order = append(order, 1)
	})
	ctrl.Defer(func(error) {
		order = append(order, 2)
	})

	assert.Nil(t, ctrl.Close())
	assert.Equal(t, []int{2, 1}, order)
}

func TestControl_DeferAfterClose(t *testing.T) {
	ctrl := NewControl(nil)
	ctrl.Fail(TimeoutError)

	var seen error
	ctrl.Defer(func(e error) {
		seen = e
	})
	assert.Equal(t, TimeoutError, seen)
}

func TestControl_SubInheritsFailure(t *testing.T) {
	ctrl := NewControl(nil)
	sub := ctrl.Sub()

	ctrl.Fail(ClosedError)
	<-sub.Closed()
	assert.Equal(t, ClosedError, sub.Failure())
}

func TestControl_SubCloseLeavesParent(t *testing.T) {
	ctrl := NewControl(nil)
	defer ctrl.Close()

	sub := ctrl.Sub()
	assert.Nil(t, sub.Close())
	assert.False(t, ctrl.IsClosed())
}

func TestExtract(t *testing.T) {
	assert.Nil(t, Extract(nil))
	assert.Equal(t, ClosedError, Extract(errors.Wrap(errors.WithStack(ClosedError), "outer")))

	other := errors.New("other")
	assert.Equal(t, other, Extract(other))
}
