package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quickbite/delivery-microservices/common/apperr"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusReservingStock, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPreparing, false},
		{StatusReservingStock, StatusPreparing, true},
		{StatusReservingStock, StatusPending, true},
		{StatusReservingStock, StatusCancelled, false},
		{StatusPreparing, StatusOnTheWay, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusPreparing, StatusDelivered, false},
		{StatusOnTheWay, StatusDelivered, true},
		{StatusOnTheWay, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusDelivered, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, canTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransitionKind(t *testing.T) {
	err := validateTransition(StatusDelivered, StatusCancelled)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	assert.NoError(t, validateTransition(StatusPending, StatusReservingStock))
}
