package mongoneo

import (
	"context"
)

// Model is the minimal contract a mapped type must satisfy: the name of the
// physical collection its hierarchy is stored in.
type Model interface {
	Collection() string
}

// Inheritable marks a model as extensible. Only models returning true may be
// used as the parent of another registered model.
type Inheritable interface {
	AllowInheritance() bool
}

// Connectable selects a named connection for a model. Models without it use
// DefaultConnection. Subtypes always use the connection of their hierarchy
// root.
type Connectable interface {
	Connection() string
}

// Validator is invoked before every Save. Field-level constraint checking is
// delegated to the model itself; a non-nil error aborts the save wrapped in a
// *ValidationError.
type Validator interface {
	Validate() error
}

type BeforeSaveHook interface {
	BeforeSave(ctx context.Context) error
}

type AfterSaveHook interface {
	AfterSave(ctx context.Context) error
}

type BeforeDeleteHook interface {
	BeforeDelete(ctx context.Context) error
}

type AfterDeleteHook interface {
	AfterDelete(ctx context.Context) error
}
