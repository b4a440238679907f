package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxPromptChars is used when a validator is built with a non-positive limit
const DefaultMaxPromptChars = 16000

// ChatRequestValidator validates generation requests and sampling settings
type ChatRequestValidator struct {
	maxPromptChars int
}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator(maxPromptChars int) *ChatRequestValidator {
	if maxPromptChars <= 0 {
		maxPromptChars = DefaultMaxPromptChars
	}
	return &ChatRequestValidator{maxPromptChars: maxPromptChars}
}

// ValidatePrompt validates a prompt submitted for generation
func (v *ChatRequestValidator) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt cannot be empty")
	}

	if n := utf8.RuneCountInString(prompt); n > v.maxPromptChars {
		return fmt.Errorf("prompt must be at most %d characters long, got %d", v.maxPromptChars, n)
	}
	return nil
}

// ValidateTemperature validates the temperature parameter
func (v *ChatRequestValidator) ValidateTemperature(temperature float64) error {
	if temperature < 0 || temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %.2f", temperature)
	}
	return nil
}

// ValidateTopP validates the nucleus-sampling threshold
func (v *ChatRequestValidator) ValidateTopP(topP float64) error {
	if topP <= 0 || topP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %.2f", topP)
	}
	return nil
}

// ValidateMaxTokens validates the generation length cap
func (v *ChatRequestValidator) ValidateMaxTokens(maxTokens int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", maxTokens)
	}
	return nil
}

// ValidateSampling validates a complete sampling configuration
func (v *ChatRequestValidator) ValidateSampling(temperature, topP float64, maxTokens int) error {
	if err := v.ValidateTemperature(temperature); err != nil {
		return err
	}

	if err := v.ValidateTopP(topP); err != nil {
		return err
	}

	if err := v.ValidateMaxTokens(maxTokens); err != nil {
		return err
	}

	return nil
}
