package errs

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to every error produced by the mediator.
const (
	CodeTransport = "TRANSPORT_FAILURE"
	CodeParse     = "PARSE_FAILURE"
	CodeConfig    = "CONFIG_FAILURE"
)

// Transport reports a network or TLS failure reaching the upstream, the task
// endpoint, the receiver or the control-plane.
func Transport(source error, message string, metadata map[string]any) error {
	return build(source, goerrors.CategoryExternal, CodeTransport, http.StatusBadGateway, message, metadata)
}

// Parse reports a body that is not the structured data we expected.
func Parse(source error, message string, metadata map[string]any) error {
	return build(source, goerrors.CategoryBadInput, CodeParse, http.StatusUnprocessableEntity, message, metadata)
}

// Config reports a startup failure: unreadable config, TLS material,
// registration or initial config fetch. Always fatal.
func Config(source error, message string, metadata map[string]any) error {
	return build(source, goerrors.CategoryInternal, CodeConfig, http.StatusInternalServerError, message, metadata)
}

// IsKind reports whether err carries the given text code.
func IsKind(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

func build(
	source error,
	category goerrors.Category,
	textCode string,
	code int,
	message string,
	metadata map[string]any,
) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
