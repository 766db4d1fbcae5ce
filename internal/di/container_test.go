package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ id int }

func TestSingletonUniqueness(t *testing.T) {
	c := New()
	n := 0
	Register[*widget](c, Singleton, func(*Container) (*widget, error) {
		n++
		return &widget{id: n}, nil
	})

	a, err := Resolve[*widget](c)
	require.NoError(t, err)
	b, err := Resolve[*widget](c)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, n)
}

func TestGenericKeyIsolation(t *testing.T) {
	c := New()
	Register[*widget](c, Singleton, func(*Container) (*widget, error) {
		return &widget{}, nil
	})

	db, err := Resolve[*widget](c, "db")
	require.NoError(t, err)
	cache, err := Resolve[*widget](c, "cache")
	require.NoError(t, err)
	dbAgain, err := Resolve[*widget](c, "db")
	require.NoError(t, err)

	assert.NotSame(t, db, cache)
	assert.Same(t, db, dbAgain)
}

func TestTransientAlwaysDistinct(t *testing.T) {
	c := New()
	Register[*widget](c, Transient, func(*Container) (*widget, error) {
		return &widget{}, nil
	})

	a, _ := Resolve[*widget](c)
	b, _ := Resolve[*widget](c)
	assert.NotSame(t, a, b)
}

func TestScopeCorrectness(t *testing.T) {
	c := New()
	Register[*widget](c, Scoped, func(*Container) (*widget, error) {
		return &widget{}, nil
	})

	scope1 := c.CreateScope()
	a1, _ := Resolve[*widget](scope1)
	a2, _ := Resolve[*widget](scope1)
	assert.Same(t, a1, a2)

	scope2 := c.CreateScope()
	b1, _ := Resolve[*widget](scope2)
	assert.NotSame(t, a1, b1)
}

func TestMultiRegistrationOrder(t *testing.T) {
	c := New()
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 1}, nil })
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 2}, nil })
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 3}, nil })

	all, err := ResolveAll[*widget](c)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].id)
	assert.Equal(t, 2, all[1].id)
	assert.Equal(t, 3, all[2].id)

	first, err := Resolve[*widget](c)
	require.NoError(t, err)
	assert.Equal(t, 1, first.id)
}

func TestUnregisterThenReregisterFreshSingleton(t *testing.T) {
	c := New()
	n := 0
	register := func() {
		Register[*widget](c, Singleton, func(*Container) (*widget, error) {
			n++
			return &widget{id: n}, nil
		})
	}
	register()

	first, err := Resolve[*widget](c)
	require.NoError(t, err)
	assert.Equal(t, 1, first.id)

	Unregister[*widget](c)
	_, err = Resolve[*widget](c)
	assert.Error(t, err)

	register()
	second, err := Resolve[*widget](c)
	require.NoError(t, err)
	assert.Equal(t, 2, second.id)
}

func TestUnresolvedDependency(t *testing.T) {
	c := New()
	_, err := Resolve[*widget](c)
	require.Error(t, err)
}

func TestCircularDependency(t *testing.T) {
	c := New()
	type a struct{ b *widget }
	// Force a cycle by having widget's factory resolve itself.
	Register[*widget](c, Transient, func(cc *Container) (*widget, error) {
		return Resolve[*widget](cc)
	})
	_, err := Resolve[*widget](c)
	require.Error(t, err)
}

func TestRegisterConstructorInjectsByType(t *testing.T) {
	c := New()
	Register[*widget](c, Singleton, func(*Container) (*widget, error) {
		return &widget{id: 42}, nil
	})

	type consumer struct {
		w *widget
	}
	err := RegisterConstructor[*consumer](c, Transient, func(w *widget) (*consumer, error) {
		return &consumer{w: w}, nil
	})
	require.NoError(t, err)

	out, err := Resolve[*consumer](c)
	require.NoError(t, err)
	assert.Equal(t, 42, out.w.id)
}

func TestResolveAllListInjection(t *testing.T) {
	c := New()
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 1}, nil })
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 2}, nil })

	type aggregator struct {
		widgets []*widget
	}
	err := RegisterConstructor[*aggregator](c, Transient, func(ws []*widget) (*aggregator, error) {
		return &aggregator{widgets: ws}, nil
	})
	require.NoError(t, err)

	out, err := Resolve[*aggregator](c)
	require.NoError(t, err)
	require.Len(t, out.widgets, 2)
}

func TestInvokeInjectsRemainingParamsByType(t *testing.T) {
	c := New()
	Register[*widget](c, Singleton, func(*Container) (*widget, error) { return &widget{id: 7}, nil })

	type fakeCtx struct{ sessionID string }

	result, err := Invoke(c, func(ctx *fakeCtx, w *widget) (string, error) {
		return ctx.sessionID, nil
	}, &fakeCtx{sessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", result)
}

func TestDisposeScopeClosesCloseableInstances(t *testing.T) {
	c := New()
	closed := false
	Register[*closeable](c, Scoped, func(*Container) (*closeable, error) {
		return &closeable{onClose: func() { closed = true }}, nil
	})

	scope := c.CreateScope()
	_, err := Resolve[*closeable](scope)
	require.NoError(t, err)

	scope.DisposeScope()
	assert.True(t, closed)
}

type closeable struct {
	onClose func()
}

func (c *closeable) Close() error {
	c.onClose()
	return nil
}
