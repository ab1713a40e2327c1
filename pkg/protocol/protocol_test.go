package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
	"github.com/gleitzeit/gleitzeit/pkg/protocol"
)

func llmSpec() protocol.Spec {
	minLen := 1
	return protocol.Spec{
		Name:    "llm",
		Version: "v1",
		Methods: map[string]protocol.MethodSpec{
			"chat": {
				Name: "chat",
				ParamsSchema: map[string]protocol.ParameterSpec{
					"model":   {Type: protocol.TypeString, Required: true, MinLength: &minLen},
					"prompt":  {Type: protocol.TypeString, Required: true},
					"stream":  {Type: protocol.TypeBoolean},
					"top_k":   {Type: protocol.TypeInteger},
				},
			},
		},
	}
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	r := protocol.NewRegistry()
	require.NoError(t, r.Register(llmSpec()))

	err := r.Register(llmSpec())
	require.Error(t, err)
	var dup *errors.DuplicateProtocol
	require.ErrorAs(t, err, &dup)
}

func TestValidateCallRejectsMissingRequired(t *testing.T) {
	r := protocol.NewRegistry()
	require.NoError(t, r.Register(llmSpec()))

	_, err := r.ValidateCall("llm/v1", "chat", map[string]interface{}{"prompt": "hi"})
	require.Error(t, err)
	var invalid *errors.InvalidParameter
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "model", invalid.Path)
}

func TestValidateCallRejectsWrongType(t *testing.T) {
	r := protocol.NewRegistry()
	require.NoError(t, r.Register(llmSpec()))

	_, err := r.ValidateCall("llm/v1", "chat", map[string]interface{}{
		"model": "llama3", "prompt": "hi", "top_k": "not-a-number",
	})
	require.Error(t, err)
}

func TestValidateCallAcceptsValidParams(t *testing.T) {
	r := protocol.NewRegistry()
	require.NoError(t, r.Register(llmSpec()))

	_, err := r.ValidateCall("llm/v1", "chat", map[string]interface{}{
		"model": "llama3", "prompt": "hi", "stream": true,
	})
	require.NoError(t, err)
}

func TestValidateCallUnknownMethod(t *testing.T) {
	r := protocol.NewRegistry()
	require.NoError(t, r.Register(llmSpec()))

	_, err := r.ValidateCall("llm/v1", "embeddings", map[string]interface{}{})
	require.Error(t, err)
	var notSupported *errors.MethodNotSupported
	require.ErrorAs(t, err, &notSupported)
}

func TestValidateCallUnknownProtocol(t *testing.T) {
	r := protocol.NewRegistry()
	_, err := r.ValidateCall("missing/v1", "chat", map[string]interface{}{})
	require.Error(t, err)
	var notFound *errors.ProviderNotFound
	require.ErrorAs(t, err, &notFound)
}
