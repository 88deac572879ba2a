package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderRemaining(t *testing.T) {
	o := &Order{Qty: 10, Filled: 4}
	assert.Equal(t, int64(6), o.Remaining())
}

func TestOrderStatusOpen(t *testing.T) {
	assert.True(t, StatusNew.Open())
	assert.True(t, StatusPartiallyExecuted.Open())
	assert.False(t, StatusExecuted.Open())
	assert.False(t, StatusCancelled.Open())
}
