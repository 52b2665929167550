package main

import (
	"github.com/quickbite/delivery-microservices/common/apperr"
)

// allowedTransitions is the full transition table. DELIVERED and CANCELLED
// are terminal; RESERVING_STOCK may not be cancelled because the store
// service may already be deducting stock for it.
var allowedTransitions = map[Status][]Status{
	StatusPending:        {StatusReservingStock, StatusCancelled},
	StatusReservingStock: {StatusPreparing, StatusPending},
	StatusPreparing:      {StatusOnTheWay, StatusCancelled},
	StatusOnTheWay:       {StatusDelivered},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func canTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// validateTransition returns an InvalidState error when from→to is not in
// the table.
func validateTransition(from, to Status) error {
	if !canTransition(from, to) {
		return apperr.Newf(apperr.KindInvalidState, "order cannot move from %s to %s", from, to)
	}
	return nil
}
