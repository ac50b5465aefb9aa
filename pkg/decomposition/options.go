package decomposition

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

var validate = validator.New()

// Clock returns the current time
type Clock func() time.Time

// NodeOption customises a node created by CreateGraph or AddChild
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	id            string
	graphID       string
	clock         Clock
	metadata      domain.NodeMetadata
	reasoning     string
	domainTerms   []string
	promoteParent bool
}

func defaultNodeOptions() nodeOptions {
	return nodeOptions{clock: time.Now}
}

func applyOptions(opts []NodeOption) nodeOptions {
	o := defaultNodeOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithID fixes the id of the created node instead of generating one
func WithID(id string) NodeOption {
	return func(o *nodeOptions) { o.id = id }
}

// WithGraphID fixes the session id assigned by CreateGraph
func WithGraphID(id string) NodeOption {
	return func(o *nodeOptions) { o.graphID = id }
}

// WithClock overrides the time source
func WithClock(c Clock) NodeOption {
	return func(o *nodeOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithComplexity sets the node's complexity estimate
func WithComplexity(v float64) NodeOption {
	return func(o *nodeOptions) { o.metadata.Complexity = v }
}

// WithConfidence sets the node's confidence in [0,1]
func WithConfidence(v float64) NodeOption {
	return func(o *nodeOptions) { o.metadata.Confidence = v }
}

// WithReasoning sets the root's reasoning in CreateGraph. AddChild takes
// reasoning as an argument and ignores this option.
func WithReasoning(reasoning string) NodeOption {
	return func(o *nodeOptions) { o.reasoning = reasoning }
}

// WithDomainTerms sets the root's domain terms in CreateGraph. Blank and
// repeated terms are dropped. AddChild ignores this option.
func WithDomainTerms(terms ...string) NodeOption {
	return func(o *nodeOptions) { o.domainTerms = append(o.domainTerms, terms...) }
}

// WithPromoteParent lets AddChild split an atomic parent: the parent becomes
// intermediate and gains the child in the same step.
func WithPromoteParent() NodeOption {
	return func(o *nodeOptions) { o.promoteParent = true }
}

func (o nodeOptions) nodeID() string {
	if o.id != "" {
		return o.id
	}
	return uuid.NewString()
}

// nodeInput is the validated subset of caller-supplied node fields
type nodeInput struct {
	Text     string `validate:"required"`
	Metadata domain.NodeMetadata
}

func validateNodeInput(op, text string, meta domain.NodeMetadata) error {
	in := nodeInput{Text: strings.TrimSpace(text), Metadata: meta}
	if err := validate.Struct(in); err != nil {
		return domain.NewInvalidInput(op, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}

// dedupe drops empty and repeated entries while keeping first-seen order
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
