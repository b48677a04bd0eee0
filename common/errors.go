package common

import "fmt"

// Kind is the §7 error taxonomy. It lets callers branch on the category
// of a failure instead of matching error strings.
type Kind uint8

const (
	KindOK Kind = iota
	KindInvalidArg
	KindError
	KindIndefiniteTime
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalidArg:
		return "invalid_arg"
	case KindIndefiniteTime:
		return "indefinite_time"
	default:
		return "error"
	}
}

// CoreError is the error type every public operation in this module
// returns on failure, carrying its §7 Kind alongside the usual message.
type CoreError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError builds a CoreError of the given kind.
func NewError(k Kind, msg string) *CoreError {
	return &CoreError{Kind: k, Msg: msg}
}

// Wrap builds a CoreError of the given kind wrapping err.
func Wrap(k Kind, msg string, err error) *CoreError {
	return &CoreError{Kind: k, Msg: msg, Err: err}
}

// ConfirmationKind is the result kind carried by a send confirmation
// callback (§7).
type ConfirmationKind uint8

const (
	ConfirmationOK ConfirmationKind = iota
	ConfirmationError
	ConfirmationMessageTimeout
	ConfirmationDestroy
)

func (c ConfirmationKind) String() string {
	switch c {
	case ConfirmationOK:
		return "confirmation_ok"
	case ConfirmationMessageTimeout:
		return "confirmation_message_timeout"
	case ConfirmationDestroy:
		return "confirmation_destroy"
	default:
		return "confirmation_error"
	}
}

// ConnectionStatus is the status reported by the connection-status
// callback (§7).
type ConnectionStatus uint8

const (
	ConnectionStatusConnected ConnectionStatus = iota
	ConnectionStatusDisconnected
)

// ConnectionReason enumerates the §7 connection-status reasons.
type ConnectionReason uint8

const (
	ReasonOK ConnectionReason = iota
	ReasonExpiredSASToken
	ReasonDeviceDisabled
	ReasonBadCredential
	ReasonRetryExpired
	ReasonNoNetwork
	ReasonCommunicationError
)

func (r ConnectionReason) String() string {
	switch r {
	case ReasonExpiredSASToken:
		return "expired_sas_token"
	case ReasonDeviceDisabled:
		return "device_disabled"
	case ReasonBadCredential:
		return "bad_credential"
	case ReasonRetryExpired:
		return "retry_expired"
	case ReasonNoNetwork:
		return "no_network"
	case ReasonCommunicationError:
		return "communication_error"
	default:
		return "ok"
	}
}
