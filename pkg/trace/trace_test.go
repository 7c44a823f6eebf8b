package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.Len(t, id, 32)
	assert.Equal(t, id, FromContext(ctx))

	ctx2, id2 := Ensure(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}

func TestGenerateTraceID_Unique(t *testing.T) {
	assert.NotEqual(t, GenerateTraceID(), GenerateTraceID())
}
