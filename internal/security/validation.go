package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Validation limits for inbound chat payloads.
const (
	DefaultMaxMessageSize = 64 << 10 // 64 KiB of user text
	DefaultMaxJSONDepth   = 16
)

// Validation errors.
var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrMessageInvalid  = errors.New("message is not valid UTF-8")
	ErrJSONTooDeep     = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("invalid JSON")
)

// ValidateMessage checks that user text fits in limit bytes and is valid
// UTF-8. A limit <= 0 means DefaultMaxMessageSize.
func ValidateMessage(text string, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	if len(text) > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(text), limit)
	}
	if !utf8.ValidString(text) {
		return ErrMessageInvalid
	}
	return nil
}

// ValidateJSONDepth rejects documents nested deeper than limit levels.
// A limit <= 0 means DefaultMaxJSONDepth.
func ValidateJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			if depth++; depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
