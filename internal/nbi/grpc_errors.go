package nbi

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/airline-simulator/core"
	sim "github.com/signalsfoundry/airline-simulator/internal/sim/state"
)

// ErrorDomain is the ErrorInfo domain attached to mapped errors.
const ErrorDomain = "airline.sim"

// ErrInvalidEntity is used for requests that cannot be decoded.
var ErrInvalidEntity = errors.New("invalid entity")

// ToStatusError maps simulator errors onto gRPC status codes. The structured
// reason is attached as an ErrorInfo detail.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, ErrInvalidEntity),
		errors.Is(err, core.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, sim.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, sim.ErrAlreadyAssigned):
		code = codes.AlreadyExists
	case errors.Is(err, sim.ErrAircraftAirborne):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}

	reason := sim.Reason(err)
	if errors.Is(err, ErrInvalidEntity) {
		reason = sim.ReasonValidation
	}
	st := status.New(code, err.Error())
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// ReasonFromStatus extracts the structured reason from a mapped error.
func ReasonFromStatus(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}
