package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректные параметры. Возвращается сразу, не ретраится.
	ErrValidation = errors.New("invalid parameters")
	// ErrUnauthorized — отказ PermissionGate.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExecution — сбой плагина или команды.
	ErrExecution = errors.New("execution failed")
	// ErrTimeout — исполнение не уложилось в таймаут.
	ErrTimeout = errors.New("execution timed out")
	// ErrUnknownAction — имени нет в реестре.
	ErrUnknownAction = errors.New("unknown action")
	// ErrAuditWrite — сбой записи аудита. Наружу никогда не отдаётся, только ретраится.
	ErrAuditWrite = errors.New("audit write failed")
	// ErrDetection — детектор не смог разобрать ввод.
	ErrDetection = errors.New("action detection failed")
)

// ActionError связывает ошибку с действием и кодом причины для ExecutionResult.
type ActionError struct {
	Action string
	Reason ResultReason
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Action, e.Reason, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewActionError — короткий конструктор
func NewActionError(action string, reason ResultReason, err error) *ActionError {
	return &ActionError{Action: action, Reason: reason, Err: err}
}

// ReasonOf переводит ошибку в код причины. Явный ActionError имеет приоритет,
// дальше проверяются sentinel-ошибки таксономии.
func ReasonOf(err error) ResultReason {
	if err == nil {
		return ReasonNone
	}
	var ae *ActionError
	if errors.As(err, &ae) && ae.Reason != ReasonNone {
		return ae.Reason
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, ErrValidation):
		return ReasonInvalidParameters
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrUnknownAction):
		return ReasonNotFound
	default:
		return ReasonExecutionFailed
	}
}

// Invalid — хелпер для Validate: заворачивает описание в ErrValidation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
