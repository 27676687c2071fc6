package host

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/relaykit/host-sdk/internal/fastjson"
)

// methodSchema holds the resolved input and output schemas for one fixed
// RPC method name, built by reflection over the Go request/response types
// rather than hand-maintained JSON documents (spec.md §4.2, §6).
type methodSchema struct {
	input  *jsonschema.Resolved
	output *jsonschema.Resolved
}

// schemaValidator implements wire.Validator against the fixed set of named
// host<->service RPC methods. It is deliberately narrower than a general
// schema registry: it only knows the methods spec.md §6 enumerates, not
// arbitrary component method schemas (those belong to ComponentRegistry,
// an external collaborator by design).
type schemaValidator struct {
	methods map[string]methodSchema
}

func resolveFor[T any]() *jsonschema.Resolved {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("host: building schema: %v", err))
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		panic(fmt.Sprintf("host: resolving schema: %v", err))
	}
	return resolved
}

// newSchemaValidator builds the fixed method table. Panics are confined to
// process startup (schema construction from static Go types cannot fail at
// runtime once this has been exercised once, matching the teacher's own
// jsonschema.For[T] call sites which surface errors only at registration).
func newSchemaValidator() *schemaValidator {
	v := &schemaValidator{methods: make(map[string]methodSchema)}
	v.methods["INITIALIZE_HOST"] = methodSchema{input: resolveFor[InitializeHostParams](), output: resolveFor[InitializeHostResult]()}
	v.methods["SEND_IO_CALL"] = methodSchema{input: resolveFor[SendIOCallParams]()}
	v.methods["SEND_PAGE"] = methodSchema{input: resolveFor[SendPageParams]()}
	v.methods["SEND_LOADING_CALL"] = methodSchema{input: resolveFor[SendLoadingCallParams]()}
	v.methods["SEND_LOG"] = methodSchema{input: resolveFor[SendLogParams]()}
	v.methods["SEND_REDIRECT"] = methodSchema{input: resolveFor[SendRedirectParams]()}
	v.methods["MARK_TRANSACTION_COMPLETE"] = methodSchema{input: resolveFor[MarkTransactionCompleteParams]()}
	v.methods["BEGIN_HOST_SHUTDOWN"] = methodSchema{input: resolveFor[BeginHostShutdownParams]()}
	v.methods["DECLARE_HOST"] = methodSchema{input: resolveFor[DeclareHostParams]()}
	v.methods["START_TRANSACTION"] = methodSchema{input: resolveFor[StartTransactionParams]()}
	v.methods["OPEN_PAGE"] = methodSchema{input: resolveFor[OpenPageParams]()}
	v.methods["CLOSE_TRANSACTION"] = methodSchema{input: resolveFor[CloseTransactionParams]()}
	v.methods["CLOSE_PAGE"] = methodSchema{input: resolveFor[ClosePageParams]()}
	v.methods["IO_RESPONSE"] = methodSchema{input: resolveFor[IOResponseParams]()}
	return v
}

// ValidateInbound implements wire.Validator. kind is "CALL" for the request
// side of a method and "RESPONSE" for the result side, per spec.md §4.2's
// "schema-validation failures on receive log-and-drop".
func (v *schemaValidator) ValidateInbound(methodName, kind string, data []byte) error {
	return v.validate(methodName, kind, data)
}

// ValidateOutbound mirrors ValidateInbound for data this side is about to
// send.
func (v *schemaValidator) ValidateOutbound(methodName, kind string, data []byte) error {
	return v.validate(methodName, kind, data)
}

func (v *schemaValidator) validate(methodName, kind string, data []byte) error {
	ms, ok := v.methods[methodName]
	if !ok {
		// Unknown methods are out of scope for this fixed table; let the
		// caller's own handling (unknown-method RemoteError) take over.
		return nil
	}
	resolved := ms.input
	if kind == "RESPONSE" {
		if ms.output == nil {
			return nil
		}
		resolved = ms.output
	}
	if resolved == nil {
		return nil
	}
	var v2 any
	if err := fastjson.Unmarshal(data, &v2); err != nil {
		return fmt.Errorf("host: unmarshal %s %s payload: %w", methodName, kind, err)
	}
	if err := resolved.Validate(v2); err != nil {
		return fmt.Errorf("host: schema validation for %s %s: %w", methodName, kind, err)
	}
	return nil
}
