package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHandleRejectsDuplicateKey(t *testing.T) {
	r := NewRouter("test.queue", zap.NewNop(), nil)
	noop := func(context.Context, []byte) error { return nil }

	r.Handle("order.created", noop)
	assert.Panics(t, func() {
		r.Handle("order.created", noop)
	}, "double registration is a wiring bug and must fail fast")
}

func TestHandleKeepsRegistrationOrder(t *testing.T) {
	r := NewRouter("test.queue", zap.NewNop(), nil)
	noop := func(context.Context, []byte) error { return nil }

	r.Handle("order.created", noop)
	r.Handle("order.cancelled", noop)
	assert.Equal(t, []string{"order.created", "order.cancelled"}, r.keys)
}
