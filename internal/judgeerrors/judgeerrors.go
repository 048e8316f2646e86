package judgeerrors

import (
	"errors"
	"fmt"
)

var (
	// compile() was called on an entity whose status is not compilable
	ErrNotCompilable = errors.New("entity is not in a compilable status")
	// check() was called before a successful compile
	ErrNotCompiled = errors.New("submission has not been compiled")
	// the problem has no checker in the active status
	ErrNoActiveChecker = errors.New("no active checker for problem")
	// the compiler's executable cannot be found on this host
	ErrCompilerUnavailable = errors.New("compiler is not available on this host")
	// a command template has placeholders other than %src% and %exe%, or does not parse
	ErrMalformedTemplate = errors.New("malformed command template")
	// no compiler was given and none matches the source's language
	ErrNoCompilerForLanguage = errors.New("no compiler for the submission's language")
	// promote() was called on a checker that is not DONE
	ErrNotPromotable = errors.New("checker is not in a promotable status")
)

// Carries an exit code along with an error so the app can exit correctly
type ExitError struct {
	Err  error
	Code int
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d", e.Code)
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Err.Error())
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Wrap an error with an exit code
func ExitErrorWrap(code int, err error) error {
	return ExitError{Code: code, Err: err}
}
