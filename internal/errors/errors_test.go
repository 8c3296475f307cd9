package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder(t *testing.T) {
	t.Parallel()

	base := stderrors.New("disk full")
	ee := New(base).
		Component("mediacore").
		Category(CategoryResource).
		Context("path", "/tmp/out.raw").
		Context("bytes", 4096).
		Build()

	assert.Equal(t, "disk full", ee.Error())
	assert.Equal(t, "mediacore", ee.GetComponent())
	assert.Equal(t, string(CategoryResource), ee.GetCategory())
	assert.False(t, ee.GetTimestamp().IsZero())

	ctx := ee.GetContext()
	assert.Equal(t, "/tmp/out.raw", ctx["path"])
	assert.Equal(t, 4096, ctx["bytes"])

	// the returned context is a copy
	ctx["path"] = "mutated"
	assert.Equal(t, "/tmp/out.raw", ee.GetContext()["path"])
}

func TestErrorChain(t *testing.T) {
	t.Parallel()

	sentinel := stderrors.New("template not found")
	wrapped := New(fmt.Errorf("instantiating gain: %w", sentinel)).
		Component("mediacore").
		Build()

	assert.ErrorIs(t, wrapped, sentinel, "Is must traverse the wrapped chain")
	assert.Equal(t, "instantiating gain: template not found", wrapped.Error())

	var ee *EnhancedError
	require.True(t, As(wrapped, &ee))
	assert.Equal(t, "mediacore", ee.GetComponent())
}

func TestNilErrorBuilds(t *testing.T) {
	t.Parallel()

	ee := New(nil).Category(CategoryValidation).Build()
	assert.NotEmpty(t, ee.Error())
	assert.Equal(t, string(CategoryValidation), ee.GetCategory())
}

func TestNewf(t *testing.T) {
	t.Parallel()

	ee := Newf("gain %v out of range", 12.5).Build()
	assert.Equal(t, "gain 12.5 out of range", ee.Error())
	assert.Equal(t, string(CategoryGeneric), ee.GetCategory(), "category defaults to generic")
}

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	a := Newf("a").Category(CategoryTimeout).Build()
	b := Newf("b").Category(CategoryTimeout).Build()
	c := Newf("c").Category(CategoryState).Build()

	assert.True(t, a.Is(b), "same category matches")
	assert.False(t, a.Is(c), "different category does not")
}

func TestComponentDetectionFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	// built from a test file, no registered package pattern applies
	ee := Newf("anonymous").Build()
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
}
