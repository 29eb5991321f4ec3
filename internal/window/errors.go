package window

import (
	"errors"
	"fmt"
)

// BudgetExceededError is returned when the non-droppable floor of a context
// payload (foundational facts plus the target outline entry) cannot fit the
// token budget even after full trimming. It is surfaced rather than silently
// truncating facts.
type BudgetExceededError struct {
	Budget   int
	Required int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("context floor requires %d tokens but budget is %d", e.Required, e.Budget)
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
