package main

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
)

const errorDomain = "petmarket"

// errorMapping pairs a domain error with its wire code and reason.
var errorMapping = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{data.ErrNotAuthenticated, codes.Unauthenticated, "NOT_AUTHENTICATED"},
	{data.ErrOwnerUnresolved, codes.FailedPrecondition, "OWNER_UNRESOLVED"},
	{data.ErrSelfConversation, codes.InvalidArgument, "SELF_CONVERSATION"},
	{data.ErrEmptyMessage, codes.InvalidArgument, "EMPTY_MESSAGE"},
	{data.ErrConversationNotFound, codes.NotFound, "CONVERSATION_NOT_FOUND"},
	{data.ErrNotParticipant, codes.PermissionDenied, "NOT_PARTICIPANT"},
	{data.ErrListingNotFound, codes.NotFound, "LISTING_NOT_FOUND"},
	{data.ErrInvalidListing, codes.InvalidArgument, "INVALID_LISTING"},
	{data.ErrStoreUnavailable, codes.Unavailable, "STORE_UNAVAILABLE"},
}

// toStatus converts a component error into a gRPC status carrying an
// ErrorInfo reason clients can switch on.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := m.err.Error()
		if m.code == codes.Unavailable {
			// the cause may leak backend details
			msg = "service temporarily unavailable, try again"
		}
		st := status.New(m.code, msg)
		if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: m.reason, Domain: errorDomain}); derr == nil {
			st = withInfo
		}
		return st.Err()
	}
	return status.Error(codes.Internal, "internal error")
}

// errorReason extracts the ErrorInfo reason from a status error.
func errorReason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}
