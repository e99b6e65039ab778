package grpcnode

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/boards/cidutil"
	"xdao.co/boards/node"
)

// sentinels travel as status messages; each maps to a status code.
var sentinels = []struct {
	err  error
	code codes.Code
}{
	{node.ErrNameNotFound, codes.NotFound},
	{node.ErrNotFound, codes.NotFound},
	{node.ErrInvalidAddr, codes.InvalidArgument},
	{cidutil.ErrInvalidPath, codes.InvalidArgument},
	{node.ErrUnreachable, codes.Unavailable},
	{node.ErrIsDirectory, codes.FailedPrecondition},
	{node.ErrNotDirectory, codes.FailedPrecondition},
	{node.ErrPubsubDisabled, codes.FailedPrecondition},
	{node.ErrClosed, codes.Aborted},
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.Error(s.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	// Best-effort: restore the sentinel the server wrapped.
	for _, s := range sentinels {
		if strings.HasPrefix(st.Message(), s.err.Error()) {
			return fmt.Errorf("%w (remote: %s)", s.err, st.Message())
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w (remote: %s)", node.ErrNotFound, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w (remote: %s)", node.ErrUnreachable, st.Message())
	default:
		return err
	}
}
