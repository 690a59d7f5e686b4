package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
)

func TestAttributesMostSpecificWins(t *testing.T) {
	outer := core.NewAttributes(core.Name("outer"), core.InputBuffer{Initial: 1, Max: 2})
	inner := core.Named("inner")
	attrs := outer.And(inner)

	require.Equal(t, "inner", attrs.Name())
	require.Equal(t, "outer-inner", attrs.NameLifted())

	buf, ok := core.GetAttribute[core.InputBuffer](attrs)
	require.True(t, ok)
	require.Equal(t, core.InputBuffer{Initial: 1, Max: 2}, buf)

	_, ok = core.GetAttribute[core.SupervisionStrategy](attrs)
	require.False(t, ok)
	require.Equal(t, core.Dispatcher("default"), core.GetAttributeOr(attrs, core.Dispatcher("default")))

	require.True(t, attrs.Contains("input-buffer"))
	require.False(t, attrs.Contains("async-boundary"))
}

func TestAttributesAreImmutable(t *testing.T) {
	base := core.Named("base")
	derived := base.With(core.Name("derived"))

	require.Equal(t, "base", base.Name())
	require.Equal(t, "derived", derived.Name())

	list := derived.List()
	list[0] = core.Name("changed")
	require.Equal(t, "base-derived", derived.NameLifted())

	require.True(t, core.Attributes{}.IsEmpty())
	require.Equal(t, base, base.And(core.Attributes{}))
}

func TestGraphAttributes(t *testing.T) {
	src := flow.Range(0, 3)
	require.Equal(t, "range", src.Attributes().Name())

	named := src.Named("numbers")
	require.Equal(t, "numbers", named.Attributes().Name())
	require.Equal(t, "range", src.Attributes().Name(), "blueprints are immutable")

	replaced := named.WithAttributes(core.NewAttributes(core.AsyncBoundary{}))
	require.True(t, replaced.Attributes().Contains("async-boundary"))
	require.Equal(t, "range", replaced.Attributes().Name(), "stage defaults stay underneath")

	// Attributes on a composite live on its outermost level only.
	composite := flow.Via(src, flow.Identity[int]()).Named("pipeline")
	require.Equal(t, "pipeline", composite.Attributes().Name())
}
