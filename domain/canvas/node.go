package canvas

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "proofcanvas/pkg/errors"
)

// NodeType classifies a proof artifact
type NodeType string

const (
	NodeTypeDefinition     NodeType = "DEFINITION"
	NodeTypeLemma          NodeType = "LEMMA"
	NodeTypeTheorem        NodeType = "THEOREM"
	NodeTypeClaim          NodeType = "CLAIM"
	NodeTypeFormalTest     NodeType = "FORMAL_TEST"
	NodeTypeCounterexample NodeType = "COUNTEREXAMPLE"
	NodeTypeComputation    NodeType = "COMPUTATION"
	NodeTypeNote           NodeType = "NOTE"
)

// NodeStatus is the verification state of a node
type NodeStatus string

const (
	NodeStatusDraft    NodeStatus = "DRAFT"
	NodeStatusProposed NodeStatus = "PROPOSED"
	NodeStatusVerified NodeStatus = "VERIFIED"
	NodeStatusRejected NodeStatus = "REJECTED"
)

// Node is a positioned, typed proof artifact on the canvas.
// Width and Height are optional; zero means the default size.
type Node struct {
	ID           string     `json:"id" validate:"max=128"`
	Type         NodeType   `json:"type" validate:"required,oneof=DEFINITION LEMMA THEOREM CLAIM FORMAL_TEST COUNTEREXAMPLE COMPUTATION NOTE"`
	Title        string     `json:"title" validate:"max=500"`
	Content      string     `json:"content,omitempty"`
	Formula      string     `json:"formula,omitempty"`
	LeanCode     string     `json:"leanCode,omitempty"`
	X            float64    `json:"x"`
	Y            float64    `json:"y"`
	Width        float64    `json:"width,omitempty" validate:"gte=0"`
	Height       float64    `json:"height,omitempty" validate:"gte=0"`
	Status       NodeStatus `json:"status,omitempty" validate:"omitempty,oneof=DRAFT PROPOSED VERIFIED REJECTED"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// Position returns the node origin
func (n Node) Position() Point { return Point{X: n.X, Y: n.Y} }

// Size returns the node dimensions, falling back to the default rectangle
func (n Node) Size() (w, h float64) {
	w, h = n.Width, n.Height
	if w <= 0 {
		w = DefaultNodeWidth
	}
	if h <= 0 {
		h = DefaultNodeHeight
	}
	return w, h
}

// Rect returns the node's rectangle in canvas space
func (n Node) Rect() Rect {
	w, h := n.Size()
	return Rect{X: n.X, Y: n.Y, Width: w, Height: h}
}

// Clone returns a deep copy
func (n Node) Clone() Node {
	if n.Dependencies != nil {
		n.Dependencies = append([]string(nil), n.Dependencies...)
	}
	return n
}

// DependsOn reports whether id is listed in the node's dependencies
func (n Node) DependsOn(id string) bool {
	for _, dep := range n.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Validator returns the shared struct validator. Wire payloads embedding
// canvas types validate with the same instance.
func Validator() *validator.Validate {
	return validate
}

// Validate checks field rules and returns a typed validation error
func (n Node) Validate() error {
	return ValidationError(validate.Struct(n))
}

// ValidationError converts validator output into an AppError listing the
// offending fields. A nil input yields nil.
func ValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.NewValidationError(err.Error())
	}

	details := make(map[string]interface{}, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Namespace()] = fe.Tag()
		fields = append(fields, fe.Field())
	}
	return appErrors.NewValidationError(fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", "))).
		WithDetails(details)
}
