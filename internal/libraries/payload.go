package libraries

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

const (
	schemaErrorTemplateConstant    = "invalid data for library %s: %v"
	payloadRequiredMessageConstant = "data is required"
	mapstructureTagNameConstant    = "mapstructure"
)

// ErrPayloadRequired reports a library that needs data but received none.
var ErrPayloadRequired = errors.New(payloadRequiredMessageConstant)

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// SchemaError reports a payload that does not match the library's expected shape.
type SchemaError struct {
	Library ID
	Cause   error
}

// Error describes the mismatch.
func (schemaError SchemaError) Error() string {
	return fmt.Sprintf(schemaErrorTemplateConstant, schemaError.Library, schemaError.Cause)
}

// Unwrap exposes the decoding or validation failure.
func (schemaError SchemaError) Unwrap() error {
	return schemaError.Cause
}

// DecodePayload decodes payload into target, rejecting unknown keys, and validates struct tags.
// When required is false a nil payload leaves target untouched.
func DecodePayload(library ID, payload any, target any, required bool) error {
	if payload == nil {
		if required {
			return SchemaError{Library: library, Cause: ErrPayloadRequired}
		}
		return validatePayload(library, target)
	}

	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          mapstructureTagNameConstant,
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if decoderError != nil {
		return SchemaError{Library: library, Cause: decoderError}
	}
	if decodeError := decoder.Decode(payload); decodeError != nil {
		return SchemaError{Library: library, Cause: decodeError}
	}
	return validatePayload(library, target)
}

func validatePayload(library ID, target any) error {
	value := reflect.Indirect(reflect.ValueOf(target))
	switch value.Kind() {
	case reflect.Struct:
		if validationError := payloadValidator.Struct(value.Interface()); validationError != nil {
			return SchemaError{Library: library, Cause: validationError}
		}
	case reflect.Slice:
		for index := 0; index < value.Len(); index++ {
			element := reflect.Indirect(value.Index(index))
			if element.Kind() != reflect.Struct {
				continue
			}
			if validationError := payloadValidator.Struct(element.Interface()); validationError != nil {
				return SchemaError{Library: library, Cause: fmt.Errorf("[%d]: %w", index, validationError)}
			}
		}
	}
	return nil
}
