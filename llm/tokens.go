package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultInputTokensLimit applies when a model has no configured limit.
	DefaultInputTokensLimit = 100000

	// PlaceholderContent stands in for payloads whose text cannot be extracted.
	PlaceholderContent = "Unable to extract content for token counting"

	// DefaultEncoding is the local tokenizer used when a vendor has no counting endpoint.
	DefaultEncoding = "cl100k_base"
)

// TokenCountFunc counts tokens in text.
type TokenCountFunc func(text string) (int, error)

// TiktokenCounter counts tokens with a BPE encoding loaded on first use.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

// NewTiktokenCounter returns a counter for the named encoding.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

// Count implements TokenCountFunc.
func (c *TiktokenCounter) Count(text string) (int, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})
	if c.err != nil {
		return 0, fmt.Errorf("load %s encoding: %w", c.encoding, c.err)
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}

// TokenValidator rejects payloads that exceed a model's input token budget.
type TokenValidator struct {
	defaultLimit int
	logger       zerolog.Logger
}

// NewTokenValidator creates a validator. A non-positive defaultLimit uses
// DefaultInputTokensLimit.
func NewTokenValidator(defaultLimit int, logger zerolog.Logger) *TokenValidator {
	if defaultLimit <= 0 {
		defaultLimit = DefaultInputTokensLimit
	}
	return &TokenValidator{
		defaultLimit: defaultLimit,
		logger:       logger.With().Str("component", "token_validator").Logger(),
	}
}

// ValidatePayloadTokenLimit returns a *TokenLimitExceededError when the
// payload is over budget. Failures while counting are logged and ignored so
// that counting problems never block a request.
func (v *TokenValidator) ValidatePayloadTokenLimit(ctx context.Context, payload Payload, provider Provider, model ModelConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error().Interface("panic", r).Str("model", model.Name).Msg("Token validation failed")
			err = nil
		}
	}()

	limit := model.InputTokensLimit
	if limit <= 0 {
		v.logger.Warn().
			Str("model", model.Name).
			Int("default_limit", v.defaultLimit).
			Msg("No input token limit configured, using default")
		limit = v.defaultLimit
	}

	content := provider.PayloadContent(payload)
	count, countErr := provider.GetTokens(ctx, content, model)
	if countErr != nil {
		v.logger.Error().Err(countErr).Str("model", model.Name).Msg("Token counting failed")
		return nil
	}

	v.logger.Debug().
		Str("model", model.Name).
		Int("tokens", count).
		Int("limit", limit).
		Msg("Validated payload token count")

	if count > limit {
		return &TokenLimitExceededError{Model: model.Name, Current: count, Max: limit}
	}
	return nil
}
