package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation documents one route. Nothing is recorded until Build.
type Operation struct {
	doc    *Document
	method string
	path   string
	op     *openapi3.Operation
}

func (o *Operation) pathParams() {
	for _, part := range strings.Split(o.path, "/") {
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			continue
		}
		o.op.AddParameter(openapi3.NewPathParameter(strings.Trim(part, "{}")).
			WithSchema(openapi3.NewStringSchema()))
	}
}

func (o *Operation) Summary(summary string) *Operation {
	o.op.Summary = summary
	return o
}

func (o *Operation) Description(description string) *Operation {
	o.op.Description = description
	return o
}

func (o *Operation) ID(id string) *Operation {
	o.op.OperationID = id
	return o
}

func (o *Operation) Tags(tags ...string) *Operation {
	o.op.Tags = append(o.op.Tags, tags...)
	return o
}

func (o *Operation) Header(name, description string) *Operation {
	param := openapi3.NewHeaderParameter(name).WithSchema(openapi3.NewStringSchema())
	param.Description = description
	o.op.AddParameter(param)
	return o
}

// Body documents a required JSON request body shaped like example.
func (o *Operation) Body(example any, description string) *Operation {
	o.op.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithDescription(description).
			WithRequired(true).
			WithJSONSchemaRef(o.doc.schemaFor(example)),
	}
	return o
}

// Response documents a JSON response shaped like example. A nil example
// documents a response without a body.
func (o *Operation) Response(status int, example any, description string) *Operation {
	resp := openapi3.NewResponse().WithDescription(description)
	if example != nil {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(o.doc.schemaFor(example))
	}
	o.op.AddResponse(status, resp)
	return o
}

// Security requires any one of the named schemes.
func (o *Operation) Security(schemes ...string) *Operation {
	if o.op.Security == nil {
		o.op.Security = openapi3.NewSecurityRequirements()
	}
	for _, scheme := range schemes {
		o.op.Security.With(openapi3.NewSecurityRequirement().Authenticate(scheme))
	}
	return o
}

func (o *Operation) Build() {
	if o.op.OperationID == "" {
		o.op.OperationID = strings.ToLower(o.method) + operationSuffix(o.path)
	}
	o.doc.addOperation(o.method, o.path, o.op)
}

// operationSuffix derives a stable id fragment from a path such as
// /.well-known/jwks.json -> WellKnownJwksJson.
func operationSuffix(path string) string {
	var b strings.Builder
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for _, f := range fields {
		b.WriteString(strings.ToUpper(f[:1]) + f[1:])
	}
	if b.Len() == 0 {
		return "Root"
	}
	return b.String()
}
