package suite

import (
	"context"
	"fmt"
	"time"
)

// Page is the handle passed to interaction steps. Selectors are CSS.
type Page interface {
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, dx, dy float64) error
	WaitVisible(ctx context.Context, selector string) error
	Eval(ctx context.Context, js string) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Action names a declarative step.
type Action string

const (
	ActionClick       Action = "click"
	ActionFill        Action = "fill"
	ActionHover       Action = "hover"
	ActionScroll      Action = "scroll"
	ActionWaitVisible Action = "wait_visible"
	ActionEval        Action = "eval"
	ActionSleep       Action = "sleep"
)

// Step is one declarative interaction, as written in suite files.
type Step struct {
	Action   Action        `yaml:"action"`
	Selector string        `yaml:"selector,omitempty"`
	Value    string        `yaml:"value,omitempty"`
	X        float64       `yaml:"x,omitempty"`
	Y        float64       `yaml:"y,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

// Validate checks that the step carries the fields its action needs.
func (s Step) Validate() error {
	switch s.Action {
	case ActionClick, ActionHover, ActionWaitVisible:
		if s.Selector == "" {
			return fmt.Errorf("%w: %s step needs a selector", ErrInvalidEntry, s.Action)
		}
	case ActionFill:
		if s.Selector == "" {
			return fmt.Errorf("%w: fill step needs a selector", ErrInvalidEntry)
		}
	case ActionEval:
		if s.Value == "" {
			return fmt.Errorf("%w: eval step needs a script in value", ErrInvalidEntry)
		}
	case ActionSleep:
		if s.Duration <= 0 {
			return fmt.Errorf("%w: sleep step needs a positive duration", ErrInvalidEntry)
		}
	case ActionScroll:
	default:
		return fmt.Errorf("%w: unknown step action %q", ErrInvalidEntry, s.Action)
	}
	return nil
}

// Steps compiles declarative steps into a StepsFunc. It returns nil for an
// empty list so descriptors without steps skip the interaction phase.
func Steps(steps ...Step) (StepsFunc, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return func(ctx context.Context, p Page) error {
		for i, s := range steps {
			if err := s.run(ctx, p); err != nil {
				return fmt.Errorf("suite: step %d (%s): %w", i, s.Action, err)
			}
		}
		return nil
	}, nil
}

func (s Step) run(ctx context.Context, p Page) error {
	switch s.Action {
	case ActionClick:
		return p.Click(ctx, s.Selector)
	case ActionFill:
		return p.Fill(ctx, s.Selector, s.Value)
	case ActionHover:
		return p.Hover(ctx, s.Selector)
	case ActionScroll:
		return p.Scroll(ctx, s.X, s.Y)
	case ActionWaitVisible:
		return p.WaitVisible(ctx, s.Selector)
	case ActionEval:
		return p.Eval(ctx, s.Value)
	case ActionSleep:
		return p.Sleep(ctx, s.Duration)
	}
	return fmt.Errorf("%w: unknown step action %q", ErrInvalidEntry, s.Action)
}
