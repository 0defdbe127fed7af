// Package llm provides language-model generation and model discovery for
// the annotator, using langchaingo and AWS Bedrock.
package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

var (
	// ErrModelNotFound indicates the provider does not serve the requested
	// model. Callers should move on to the next candidate.
	ErrModelNotFound = errors.New("model not found")

	// ErrFatalAPI indicates an unrecoverable provider error such as
	// exhausted credit or invalid credentials.
	ErrFatalAPI = errors.New("fatal API error")
)

var modelNotFoundPatterns = []string{
	"model not found",
	"model_not_found",
	"not_found_error",
	"does not exist",
	"try pulling it first",
	"unknown model",
	"model identifier is invalid",
	"resourcenotfoundexception",
}

var fatalPatterns = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"permission_error",
	"status code: 401",
	"status code: 403",
	"http 401:",
	"http 403:",
	"403 forbidden",
}

// isModelNotFound classifies provider errors by message, since langchaingo
// flattens HTTP errors into strings.
func isModelNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range modelNotFoundPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return strings.Contains(msg, "404") && strings.Contains(msg, "model")
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classifyError wraps err with ErrModelNotFound or ErrFatalAPI when it
// matches, and returns it unchanged otherwise.
func classifyError(model string, err error) error {
	switch {
	case err == nil:
		return nil
	case isModelNotFound(err):
		return fmt.Errorf("%w: %s: %v", ErrModelNotFound, model, err)
	case isFatalAPIError(err):
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	default:
		return err
	}
}
