package vault

import "errors"

// Kind classifies vault errors so callers can react to a family of failures
// without matching every sentinel.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation covers malformed input rejected before any mutation.
	KindValidation
	// KindCapacity covers ceilings, idle shortfalls and deposit limits.
	KindCapacity
	// KindLossLimit is a withdrawal whose realized loss exceeded the caller's tolerance.
	KindLossLimit
	// KindExternal is a failed strategy call. The caller may retry later.
	KindExternal
	// KindAuthorization is a caller without the required role.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindLossLimit:
		return "loss_limit"
	case KindExternal:
		return "external_unavailable"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a vault failure with a kind. Sentinels below are compared with
// errors.Is; wrapped details are added with fmt.Errorf("%w: ...").
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string { return "vault: " + e.msg }

// Kind returns the error class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the class of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

var (
	ErrUnauthorized = newError(KindAuthorization, "caller lacks required role")

	ErrInvalidAmount     = newError(KindValidation, "amount must be positive")
	ErrInvalidBps        = newError(KindValidation, "basis points exceed 10000")
	ErrInvalidParams     = newError(KindValidation, "invalid vault parameters")
	ErrOverflow          = newError(KindValidation, "amount overflows 256 bits")
	ErrAlreadyRegistered = newError(KindValidation, "strategy already registered")
	ErrStrategyBound     = newError(KindValidation, "strategy already backs another vault")
	ErrUnknownStrategy   = newError(KindValidation, "unknown strategy")
	ErrStrategyNotActive = newError(KindValidation, "strategy not active")
	ErrNonZeroDebt       = newError(KindValidation, "strategy has outstanding debt")
	ErrDuplicateEntry    = newError(KindValidation, "duplicate queue entry")
	ErrTooLong           = newError(KindValidation, "queue exceeds maximum length")
	ErrQueueFull         = newError(KindValidation, "queue is full")
	ErrZeroShares        = newError(KindValidation, "operation would mint or burn zero shares")
	ErrReadOnlyRoles     = newError(KindValidation, "authorizer does not support role changes")

	ErrInsufficientIdle   = newError(KindCapacity, "insufficient idle assets")
	ErrCeilingExceeded    = newError(KindCapacity, "strategy debt ceiling reached")
	ErrDepositLimit       = newError(KindCapacity, "deposit limit exceeded")
	ErrInsufficientShares = newError(KindCapacity, "insufficient shares")

	ErrLossExceedsLimit = newError(KindLossLimit, "realized loss exceeds limit")

	ErrValuationUnavailable = newError(KindExternal, "strategy valuation unavailable")
	ErrStrategyUnavailable  = newError(KindExternal, "strategy call failed")
)
