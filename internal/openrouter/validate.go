package openrouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/akarwowska/altgen/internal/domain"
)

// MaxMessageLength bounds the user text sent with one request.
const MaxMessageLength = 32000

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig reports every violated field at once, so a broken deployment
// surfaces all its problems in a single error.
func ValidateConfig(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return domain.NewValidationError("invalid client configuration", fields...)
	}
	return domain.NewValidationError("invalid client configuration: " + err.Error())
}

// ValidateText checks the plain user message before any side effect occurs.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.NewValidationError("message cannot be empty")
	}
	if len(text) > MaxMessageLength {
		return domain.NewValidationError(fmt.Sprintf("message is too long (max %d characters)", MaxMessageLength))
	}
	return nil
}

// ValidateMessage accepts either a plain-string content or an ordered list of
// text and image parts.
func ValidateMessage(msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleSystem {
		return domain.NewValidationError(fmt.Sprintf("unsupported message role %q", msg.Role))
	}

	switch content := msg.Content.(type) {
	case string:
		return ValidateText(content)
	case []ContentPart:
		if len(content) == 0 {
			return domain.NewValidationError("message content cannot be empty")
		}
		for i, part := range content {
			if err := validatePart(part); err != nil {
				return domain.NewValidationError(fmt.Sprintf("content part %d: %v", i, err))
			}
		}
		return nil
	default:
		return domain.NewValidationError("message content must be a string or a list of content parts")
	}
}

func validatePart(part ContentPart) error {
	switch part.Type {
	case PartText:
		if strings.TrimSpace(part.Text) == "" {
			return errors.New("text part is empty")
		}
		return nil
	case PartImage:
		if part.ImageURL == nil {
			return errors.New("image part is missing image_url")
		}
		if err := validateImageReference(part.ImageURL.URL); err != nil {
			return err
		}
		switch part.ImageURL.Detail {
		case "", DetailLow, DetailHigh:
			return nil
		default:
			return fmt.Errorf("unsupported image detail %q", part.ImageURL.Detail)
		}
	default:
		return fmt.Errorf("unsupported content part type %q", part.Type)
	}
}

// validateImageReference accepts an absolute http(s) URL or a data URI; the
// storage-path-to-URL resolution is the caller's job.
func validateImageReference(ref string) error {
	if ref == "" {
		return errors.New("image URL is empty")
	}
	if strings.HasPrefix(ref, "data:") {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("image URL %q is not an absolute http(s) URL or data URI", ref)
	}
	return nil
}

// ParseResponse validates a normalized response body. Partial payloads are
// tolerated, but the success flag must be present.
func ParseResponse(data []byte) (*Response, error) {
	var shape struct {
		Success *bool        `json:"success"`
		Message string       `json:"message"`
		Data    ResponseData `json:"data"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, domain.NewValidationError("malformed response body: " + err.Error())
	}
	if shape.Success == nil {
		return nil, domain.NewValidationError("response is missing the success flag")
	}
	return &Response{
		Success: *shape.Success,
		Message: shape.Message,
		Data:    shape.Data,
	}, nil
}
