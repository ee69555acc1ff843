package contextx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	assert.False(t, InTx(ctx))
	assert.Nil(t, GetTx(ctx))

	tx := &struct{ name string }{"tx"}
	txCtx := WithTx(ctx, tx)
	assert.True(t, InTx(txCtx))
	assert.Same(t, tx, GetTx(txCtx))
	assert.False(t, InTx(ctx))
}
