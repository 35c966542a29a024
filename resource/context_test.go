package resource

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/errors"
)

type device struct {
	name   string
	closed *[]string
	err    error
}

func (d *device) Close() error {
	*d.closed = append(*d.closed, d.name)
	return d.err
}

func TestContext_RegisterAndGet(t *testing.T) {
	ctx := NewContext(nil)
	var closed []string

	require.NoError(t, ctx.Register("gpu", &device{name: "gpu", closed: &closed}))
	require.NoError(t, ctx.Register("frames", 64))

	gpu, err := Get[*device](ctx, "gpu")
	require.NoError(t, err)
	assert.Equal(t, "gpu", gpu.name)

	n, err := Get[int](ctx, "frames")
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	_, err = Get[string](ctx, "frames")
	assert.True(t, errors.IsInvalid(err))

	_, err = Get[int](ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrResourceNotFound)

	assert.Equal(t, []string{"frames", "gpu"}, ctx.Names())
}

func TestContext_RegisterValidation(t *testing.T) {
	ctx := NewContext(nil)
	require.NoError(t, ctx.Register("a", 1))

	assert.True(t, errors.IsInvalid(ctx.Register("a", 2)))
	assert.True(t, errors.IsInvalid(ctx.Register("", 2)))
	assert.True(t, errors.IsInvalid(ctx.Register("b", nil)))
}

func TestContext_CloseReverseOrder(t *testing.T) {
	ctx := NewContext(nil)
	var closed []string
	boom := stderrors.New("device lost")

	require.NoError(t, ctx.Register("first", &device{name: "first", closed: &closed}))
	require.NoError(t, ctx.Register("second", &device{name: "second", closed: &closed, err: boom}))
	require.NoError(t, ctx.Register("third", &device{name: "third", closed: &closed}))

	err := ctx.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"third", "second", "first"}, closed)

	require.NoError(t, ctx.Close())
	assert.Len(t, closed, 3)

	_, ok := ctx.Lookup("first")
	assert.False(t, ok)
	assert.True(t, errors.IsInvalid(ctx.Register("late", 1)))
}
