package jsonrpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/jsonrpc"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := jsonrpc.NewRequest("echo.echo", map[string]any{"message": "hi"})
	require.NoError(t, err)
	require.NoError(t, req.Validate())

	data, err := req.Marshal()
	require.NoError(t, err)

	parsed, err := jsonrpc.ParseRequest(data)
	require.NoError(t, err)
	require.Equal(t, "echo.echo", parsed.Method)

	var params map[string]any
	require.NoError(t, parsed.UnmarshalParams(&params))
	require.Equal(t, "hi", params["message"])
}

func TestResponseRequiresExactlyOne(t *testing.T) {
	resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: "1"}
	require.Error(t, resp.Validate())

	resp.Result = []byte(`"ok"`)
	require.NoError(t, resp.Validate())
}

func TestErrorResponseKind(t *testing.T) {
	resp := jsonrpc.NewErrorResponse("1", jsonrpc.CodeCircuitOpen, "circuit open", "circuit_open")
	require.Error(t, resp.Error)
	require.Equal(t, "circuit_open", resp.Error.Kind())
}
