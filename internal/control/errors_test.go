package control

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/rumor-routing-sim/core"
	"github.com/signalsfoundry/rumor-routing-sim/topology"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.NotFound, "unknown service"), code: codes.NotFound},
		{name: "invalid config", err: fmt.Errorf("%w: update limit", core.ErrInvalidConfig), code: codes.InvalidArgument},
		{name: "malformed topology", err: topology.ErrMalformedRecord, code: codes.InvalidArgument},
		{name: "not loaded", err: core.ErrNotLoaded, code: codes.FailedPrecondition},
		{name: "already loaded", err: core.ErrAlreadyLoaded, code: codes.AlreadyExists},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
