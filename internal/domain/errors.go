package domain

import "errors"

// ErrorClass groups settlement errors by how a caller should react to them.
type ErrorClass string

const (
	ClassUnknown       ErrorClass = "unknown"
	ClassValidation    ErrorClass = "validation"
	ClassTiming        ErrorClass = "timing"
	ClassState         ErrorClass = "state"
	ClassAuthorization ErrorClass = "authorization"
	ClassSettlement    ErrorClass = "settlement"
	ClassArithmetic    ErrorClass = "arithmetic"
	ClassHost          ErrorClass = "host"
)

// Input validation.
var (
	ErrInsufficientOutcomes = errors.New("insufficient outcomes")
	ErrTooManyOutcomes      = errors.New("too many outcomes")
	ErrInvalidEndTime       = errors.New("invalid end time")
	ErrEndTimeTooFar        = errors.New("end time too far")
	ErrBetTooSmall          = errors.New("bet too small")
	ErrInvalidOutcome       = errors.New("invalid outcome")
	ErrInvalidQuestion      = errors.New("invalid question")
	ErrInvalidOutcomeLabel  = errors.New("invalid outcome label")
	ErrInvalidMinBet        = errors.New("invalid min bet")
	ErrInvalidMarketID      = errors.New("invalid market id")
	ErrFeeTooHigh           = errors.New("fee too high")
	ErrInvalidAmount        = errors.New("invalid amount")
)

// Timing.
var (
	ErrMarketExpired    = errors.New("market expired")
	ErrMarketNotExpired = errors.New("market not expired")
)

// State machine.
var (
	ErrMarketNotActive            = errors.New("market not active")
	ErrMarketNotResolved          = errors.New("market not resolved")
	ErrMarketNotCancelled         = errors.New("market not cancelled")
	ErrRegistryNotInitialized     = errors.New("registry not initialized")
	ErrRegistryAlreadyInitialized = errors.New("registry already initialized")
	ErrMarketExists               = errors.New("market already exists")
	ErrMarketNotFound             = errors.New("market not found")
	ErrNoWinners                  = errors.New("no stake on winning outcome")
)

// Authorization.
var (
	ErrUnauthorized              = errors.New("unauthorized")
	ErrUnauthorizedResolver      = errors.New("unauthorized resolver")
	ErrUnauthorizedMarketClose   = errors.New("unauthorized market close")
	ErrUnauthorizedFeeCollection = errors.New("unauthorized fee collection")
)

// Settlement.
var (
	ErrAlreadyClaimed         = errors.New("already claimed")
	ErrNoWinningBet           = errors.New("no winning bet")
	ErrNothingToRefund        = errors.New("nothing to refund")
	ErrFeesAlreadyCollected   = errors.New("fees already collected")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientVaultFunds = errors.New("insufficient vault funds")
)

// ErrOverflow is returned when any pool, balance, fee or payout computation
// would exceed the 64-bit amount range.
var ErrOverflow = errors.New("arithmetic overflow")

// Host and infrastructure.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("transaction conflict")
	ErrLockHeld      = errors.New("lock already held")
	ErrLayout        = errors.New("account layout mismatch")
	ErrRateLimited   = errors.New("rate limited")
)

var classes = map[error]ErrorClass{
	ErrInsufficientOutcomes: ClassValidation,
	ErrTooManyOutcomes:      ClassValidation,
	ErrInvalidEndTime:       ClassValidation,
	ErrEndTimeTooFar:        ClassValidation,
	ErrBetTooSmall:          ClassValidation,
	ErrInvalidOutcome:       ClassValidation,
	ErrInvalidQuestion:      ClassValidation,
	ErrInvalidOutcomeLabel:  ClassValidation,
	ErrInvalidMinBet:        ClassValidation,
	ErrInvalidMarketID:      ClassValidation,
	ErrFeeTooHigh:           ClassValidation,
	ErrInvalidAmount:        ClassValidation,

	ErrMarketExpired:    ClassTiming,
	ErrMarketNotExpired: ClassTiming,

	ErrMarketNotActive:            ClassState,
	ErrMarketNotResolved:          ClassState,
	ErrMarketNotCancelled:         ClassState,
	ErrRegistryNotInitialized:     ClassState,
	ErrRegistryAlreadyInitialized: ClassState,
	ErrMarketExists:               ClassState,
	ErrMarketNotFound:             ClassState,
	ErrNoWinners:                  ClassState,

	ErrUnauthorized:              ClassAuthorization,
	ErrUnauthorizedResolver:      ClassAuthorization,
	ErrUnauthorizedMarketClose:   ClassAuthorization,
	ErrUnauthorizedFeeCollection: ClassAuthorization,

	ErrAlreadyClaimed:         ClassSettlement,
	ErrNoWinningBet:           ClassSettlement,
	ErrNothingToRefund:        ClassSettlement,
	ErrFeesAlreadyCollected:   ClassSettlement,
	ErrInsufficientFunds:      ClassSettlement,
	ErrInsufficientVaultFunds: ClassSettlement,

	ErrOverflow: ClassArithmetic,

	ErrNotFound:      ClassHost,
	ErrAlreadyExists: ClassHost,
	ErrConflict:      ClassHost,
	ErrLockHeld:      ClassHost,
	ErrLayout:        ClassHost,
	ErrRateLimited:   ClassHost,
}

// ClassOf reports the class of the first known sentinel in err's chain.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	for sentinel, class := range classes {
		if errors.Is(err, sentinel) {
			return class
		}
	}
	return ClassUnknown
}

// Retryable reports whether the same request may succeed if submitted again
// later without changes: the market has not reached its end time yet, or the
// host rejected the transaction because of a concurrent writer.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrMarketNotExpired),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrLockHeld),
		errors.Is(err, ErrRateLimited):
		return true
	default:
		return false
	}
}
