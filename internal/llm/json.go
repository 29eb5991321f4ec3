package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// CleanJSONResponse strips markdown fences and leading/trailing prose from a
// model response, keeping the outermost JSON object.
func CleanJSONResponse(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}

	return strings.TrimSpace(response)
}

// DecodeStrict parses a model response into target and validates it against
// the target's validate tags. Model output is untrusted input; nothing
// reaches the store without passing through here.
func DecodeStrict(response string, target any) error {
	cleaned := CleanJSONResponse(response)
	if cleaned == "" {
		return ErrEmptyResponse
	}

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := structValidator().Struct(target); err != nil {
		return fmt.Errorf("%w: validation: %v", ErrMalformedResponse, err)
	}
	return nil
}
