package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const pythonSampleCode = `def greet(name):
    if not name:
        name = "world"
    print("Hello, " + name)
`

func TestHandleFingerprint_ValidPythonCode(t *testing.T) {
	t.Parallel()

	input := FingerprintInput{
		Code:     pythonSampleCode,
		Language: "python",
	}

	result, _, err := handleFingerprint(context.Background(), &mcpsdk.CallToolRequest{}, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "token_count")
	assert.Contains(t, text.Text, "fingerprint_count")
}

func TestHandleFingerprint_EmptyCode(t *testing.T) {
	t.Parallel()

	input := FingerprintInput{
		Code:     "",
		Language: "python",
	}

	result, _, err := handleFingerprint(context.Background(), &mcpsdk.CallToolRequest{}, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "code parameter is required")
}

func TestHandleFingerprint_EmptyLanguage(t *testing.T) {
	t.Parallel()

	input := FingerprintInput{
		Code:     "print(1)",
		Language: "",
	}

	result, _, err := handleFingerprint(context.Background(), &mcpsdk.CallToolRequest{}, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "language parameter is required")
}

func TestHandleFingerprint_UnsupportedLanguage(t *testing.T) {
	t.Parallel()

	input := FingerprintInput{
		Code:     "some code",
		Language: "brainfuck",
	}

	result, _, err := handleFingerprint(context.Background(), &mcpsdk.CallToolRequest{}, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "unsupported language")
}

func TestHandleFingerprint_CodeTooLarge(t *testing.T) {
	t.Parallel()

	largeCode := make([]byte, MaxCodeInputBytes+1)
	for i := range largeCode {
		largeCode[i] = 'a'
	}

	input := FingerprintInput{
		Code:     string(largeCode),
		Language: "python",
	}

	result, _, err := handleFingerprint(context.Background(), &mcpsdk.CallToolRequest{}, input)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "exceeds maximum size")
}
