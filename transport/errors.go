package transport

import "fmt"

// ErrorCode is a QUIC transport error code.
// https://quicwg.org/base-drafts/draft-ietf-quic-transport.html#section-20
type ErrorCode uint64

// Transport error codes from spec.md §7.
const (
	NoError                ErrorCode = 0x0
	InternalError          ErrorCode = 0x1
	ConnectionRefused      ErrorCode = 0x2
	FlowControlError       ErrorCode = 0x3
	StreamLimitError       ErrorCode = 0x4
	StreamStateError       ErrorCode = 0x5
	FinalSizeError         ErrorCode = 0x6
	FrameEncodingError     ErrorCode = 0x7
	TransportParameterError ErrorCode = 0x8
	ConnectionIDLimitError ErrorCode = 0x9
	ProtocolViolation      ErrorCode = 0xa
	InvalidToken           ErrorCode = 0xb
	ApplicationError       ErrorCode = 0xc
	CryptoBufferExceeded   ErrorCode = 0xd
	KeyUpdateError         ErrorCode = 0xe
	AEADLimitReached       ErrorCode = 0xf
	NoViablePath           ErrorCode = 0x10
	cryptoErrorBase        ErrorCode = 0x100
)

// Error is the single fatal-condition type the core raises; spec.md §7
// calls this err_close. A connection latches the first Error it ever
// produces (see Conn.Close) and never overwrites it.
type Error struct {
	Code   ErrorCode
	Frame  uint64 // triggering frame type, 0 if none
	Reason string
}

func newError(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("quic: %s", errorCodeString(e.Code))
	}
	return fmt.Sprintf("quic: %s: %s", errorCodeString(e.Code), e.Reason)
}

// IsCryptoError reports whether code encodes a TLS alert
// (0x100 | alert), per spec.md §7's TLS (0x100 | tls_alert) taxonomy.
func (c ErrorCode) IsCryptoError() bool {
	return c >= cryptoErrorBase && c <= cryptoErrorBase+0xff
}

// TLSAlert returns the TLS alert encoded in a crypto error code.
func (c ErrorCode) TLSAlert() (alert uint8, ok bool) {
	if !c.IsCryptoError() {
		return 0, false
	}
	return uint8(c - cryptoErrorBase), true
}

func errorCodeString(code ErrorCode) string {
	if code.IsCryptoError() {
		alert, _ := code.TLSAlert()
		return fmt.Sprintf("crypto_error_%d", alert)
	}
	switch code {
	case NoError:
		return "no_error"
	case InternalError:
		return "internal_error"
	case ConnectionRefused:
		return "connection_refused"
	case FlowControlError:
		return "flow_control_error"
	case StreamLimitError:
		return "stream_limit_error"
	case StreamStateError:
		return "stream_state_error"
	case FinalSizeError:
		return "final_size_error"
	case FrameEncodingError:
		return "frame_encoding_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case ConnectionIDLimitError:
		return "connection_id_limit_error"
	case ProtocolViolation:
		return "protocol_violation"
	case InvalidToken:
		return "invalid_token"
	case ApplicationError:
		return "application_error"
	case CryptoBufferExceeded:
		return "crypto_buffer_exceeded"
	case KeyUpdateError:
		return "key_update_error"
	case AEADLimitReached:
		return "aead_limit_reached"
	case NoViablePath:
		return "no_viable_path"
	default:
		return fmt.Sprintf("error_0x%x", uint64(code))
	}
}

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}
