package mediacore

import (
	"github.com/tphakala/mediaflow/internal/errors"
)

// Component identifier for mediacore errors
const ComponentMediaCore = "mediacore"

// Error categories specific to mediacore
var (
	// ErrTemplateNotFound is returned when a pool template name is unknown
	ErrTemplateNotFound = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryNotFound).
		Context("resource", "element_template").
		Build()

	// ErrTemplateExists is returned when registering a duplicate template
	ErrTemplateExists = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryConflict).
		Context("resource", "element_template").
		Build()

	// ErrElementNotFound is returned when a pipeline has no element with
	// the requested name
	ErrElementNotFound = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryNotFound).
		Context("resource", "element").
		Build()

	// ErrPortConnected is returned when connecting an already connected port
	ErrPortConnected = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryConflict).
		Context("resource", "port").
		Build()

	// ErrPortNotConnected is returned for transfers on an unconnected port
	ErrPortNotConnected = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryState).
		Context("resource", "port").
		Build()

	// ErrInvalidTransition is returned for illegal lifecycle transitions
	ErrInvalidTransition = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryState).
		Context("resource", "element_state").
		Build()

	// ErrPipelineState is returned when a lifecycle operation does not
	// apply to the pipeline's current state
	ErrPipelineState = errors.New(nil).
		Component(ComponentMediaCore).
		Category(errors.CategoryState).
		Context("resource", "pipeline").
		Build()
)
