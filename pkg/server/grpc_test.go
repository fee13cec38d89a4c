package server

import (
	"context"
	"testing"

	"smallbiznis-engagement/pkg/errutil"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorInterceptor(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{errutil.Conflict("binding exists", nil), codes.AlreadyExists},
		{errutil.Validation("bad field"), codes.InvalidArgument},
		{errutil.State("event archived"), codes.FailedPrecondition},
	}
	for _, tc := range cases {
		_, err := ErrorInterceptor(context.Background(), nil, nil, func(context.Context, any) (any, error) {
			return nil, tc.err
		})
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, tc.want, st.Code())
	}

	resp, err := ErrorInterceptor(context.Background(), nil, nil, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}
