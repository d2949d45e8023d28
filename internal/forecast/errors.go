package forecast

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrUnforecastable is wrapped by UnforecastableError.
var ErrUnforecastable = eris.New("forecast: question is not forecastable")

// UnforecastableError reports a question the validator rejected.
type UnforecastableError struct {
	Question  string
	Reasoning string
}

func (e *UnforecastableError) Error() string {
	return fmt.Sprintf("forecast: question is not forecastable: %s", e.Reasoning)
}

func (e *UnforecastableError) Unwrap() error {
	return ErrUnforecastable
}

// ExpectedFormat describes what a forecastable question looks like. It is
// shown to the user after a rejection.
const ExpectedFormat = `A forecastable question asks about a future, objectively verifiable outcome with a clear deadline.
For example: "Will the European Central Bank cut its deposit rate before July 1, 2027?"`

func errMissing(what string) error {
	return eris.Errorf("forecast: %s is not configured", what)
}
