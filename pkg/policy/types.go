// Package policy defines the declarative policy document, its YAML loader
// and the compilation of policy actions into executable form.
package policy

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Mode declares how a policy is meant to be triggered. Only pull mode is
// executed directly; other modes are carried through for external
// schedulers.
type Mode struct {
	// Type is the trigger kind, e.g. "pull" or "periodic".
	Type string `yaml:"type" json:"type"`

	// Schedule is a cron expression for periodic policies.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// Policy is one declarative governance rule: a resource type to enumerate,
// filters selecting the offending subset and actions to apply to it.
type Policy struct {
	// Name uniquely identifies the policy within a run.
	Name string `yaml:"name" json:"name" validate:"required,max=254"`

	// Description is free-form operator documentation.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Resource names the registered resource type, e.g. "huawei.rds".
	Resource string `yaml:"resource" json:"resource" validate:"required"`

	// Mode is the trigger declaration. Empty means pull.
	Mode *Mode `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Filters are untyped filter nodes, compiled at evaluation time.
	Filters []any `yaml:"filters,omitempty" json:"filters,omitempty"`

	// Actions are untyped action nodes, compiled before execution.
	Actions []any `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Document is the top-level shape of a policy file.
type Document struct {
	Policies []Policy `yaml:"policies" json:"policies"`
}

var (
	validate    = validator.New()
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
)

// Validate checks structural constraints. Filter and action contents are
// validated later, at compile time.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	if !namePattern.MatchString(p.Name) {
		return fmt.Errorf("policy %q: name must start with an alphanumeric and contain only alphanumerics, dashes and underscores", p.Name)
	}
	return nil
}
