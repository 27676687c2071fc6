package host

import "fmt"

// ComponentState is the per-component state machine spec.md §4.4 names:
// RENDERING -> AWAITING_RESPONSE -> (RETURNED | CANCELED).
type ComponentState int

const (
	ComponentRendering ComponentState = iota
	ComponentAwaitingResponse
	ComponentReturned
	ComponentCanceled
)

func (s ComponentState) String() string {
	switch s {
	case ComponentRendering:
		return "RENDERING"
	case ComponentAwaitingResponse:
		return "AWAITING_RESPONSE"
	case ComponentReturned:
		return "RETURNED"
	case ComponentCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// StateChangeFunc recomputes a component's displayed props after a
// SET_STATE message, component-defined and optional.
type StateChangeFunc func(newState any) (map[string]any, error)

// Descriptor is the immutable chained-builder value spec.md §9 calls for:
// optional/multiple/withChoices/validate each return a new descriptor
// wrapping the same base. At render time a single descriptor compiles into
// a wire Component plus the live state machine that tracks its response.
type Descriptor struct {
	registry   ComponentRegistry
	methodName string
	label      string
	props      map[string]any
	optional   bool
	multiple   bool
	onState    StateChangeFunc

	groupChoices   []ChoiceButton
	groupValidate  func(values []any) (string, error)
}

// NewComponent begins a chain for one component method. registry validates
// props at this call and again at submit time for the return value.
func NewComponent(registry ComponentRegistry, methodName, label string, props map[string]any) (*Descriptor, error) {
	parsed, err := registry.ParseProps(methodName, props)
	if err != nil {
		return nil, &ValidationError{MethodName: methodName, Cause: err}
	}
	return &Descriptor{registry: registry, methodName: methodName, label: label, props: parsed}, nil
}

// Optional marks the component's return value as not required; the
// descriptor is returned from its group un-set if the user skips it.
func (d *Descriptor) Optional() *Descriptor {
	cp := *d
	cp.optional = true
	return &cp
}

// Multiple marks the component as accepting a list of values rather than
// a single one.
func (d *Descriptor) Multiple() *Descriptor {
	cp := *d
	cp.multiple = true
	return &cp
}

// WithChoices attaches labelled submit buttons to the group this
// descriptor renders in; the activated button's value becomes the group's
// Choice result.
func (d *Descriptor) WithChoices(buttons ...ChoiceButton) *Descriptor {
	cp := *d
	cp.groupChoices = append([]ChoiceButton(nil), buttons...)
	return &cp
}

// Validate attaches a group-level validator. fn receives the parsed tuple
// of every descriptor in the group (in group order) and returns a
// rejection message, or "" to accept.
func (d *Descriptor) Validate(fn func(values []any) (string, error)) *Descriptor {
	cp := *d
	cp.groupValidate = fn
	return &cp
}

// OnStateChange registers the component-defined recomputation invoked on
// every SET_STATE message for this render generation.
func (d *Descriptor) OnStateChange(fn StateChangeFunc) *Descriptor {
	cp := *d
	cp.onState = fn
	return &cp
}

func (d *Descriptor) compile() Component {
	return Component{
		MethodName:   d.methodName,
		Label:        d.label,
		InitialProps: d.props,
		CurrentProps: d.props,
		IsOptional:   d.optional,
		IsMultiple:   d.multiple,
	}
}

// liveComponent is the runtime half of a rendered Descriptor: the state
// machine and the parsed return value it records.
type liveComponent struct {
	descriptor *Descriptor
	state      ComponentState
	current    Component
	result     any
}

func newLiveComponent(d *Descriptor) *liveComponent {
	return &liveComponent{descriptor: d, state: ComponentRendering, current: d.compile()}
}

// applyReturn transitions the component to RETURNED with a parsed value.
// RETURN is terminal: applySetState ignores a later SET_STATE for a
// component that is already RETURNED or CANCELED.
func (c *liveComponent) applyReturn(registry ComponentRegistry, raw any) error {
	if c.state == ComponentReturned || c.state == ComponentCanceled {
		return nil
	}
	val, err := registry.ParseReturn(c.descriptor.methodName, raw)
	if err != nil {
		return &ValidationError{MethodName: c.descriptor.methodName, Cause: err}
	}
	c.result = val
	c.state = ComponentReturned
	return nil
}

// applySetState recomputes currentProps via the component's onState hook,
// if any, and leaves the component in AWAITING_RESPONSE.
func (c *liveComponent) applySetState(registry ComponentRegistry, raw any) error {
	if c.state == ComponentReturned || c.state == ComponentCanceled {
		return nil
	}
	val, err := registry.ParseState(c.descriptor.methodName, raw)
	if err != nil {
		return &ValidationError{MethodName: c.descriptor.methodName, Cause: err}
	}
	c.state = ComponentAwaitingResponse
	if c.descriptor.onState == nil {
		return nil
	}
	partial, err := c.descriptor.onState(val)
	if err != nil {
		return fmt.Errorf("host: onStateChange for %q: %w", c.descriptor.methodName, err)
	}
	if c.current.CurrentProps == nil {
		c.current.CurrentProps = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		c.current.CurrentProps[k] = v
	}
	return nil
}

func (c *liveComponent) cancel() {
	if c.state != ComponentReturned {
		c.state = ComponentCanceled
	}
}
