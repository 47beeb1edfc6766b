// Package openapi builds the OpenAPI document served by the authority.
// Schemas are derived from the response and request types by reflection so
// the document cannot drift from the handlers.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"
)

const schemaRefPrefix = "#/components/schemas/"

type Document struct {
	mu   sync.RWMutex
	spec *openapi3.T
	// reflect type key -> component schema name
	named map[string]string
}

func New(title, version string) *Document {
	return &Document{
		spec: &openapi3.T{
			OpenAPI: "3.0.3",
			Info: &openapi3.Info{
				Title:   title,
				Version: version,
			},
			Paths: openapi3.NewPaths(),
			Components: &openapi3.Components{
				Schemas:         make(openapi3.Schemas),
				SecuritySchemes: make(openapi3.SecuritySchemes),
			},
		},
		named: make(map[string]string),
	}
}

func (d *Document) Description(desc string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Info.Description = desc
	return d
}

func (d *Document) Tag(name, description string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Tags = append(d.spec.Tags, &openapi3.Tag{Name: name, Description: description})
	return d
}

// BearerAuth registers a JWT bearer security scheme under name.
func (d *Document) BearerAuth(name, description string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Components.SecuritySchemes[name] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  description,
		},
	}
	return d
}

func (d *Document) Spec() *openapi3.T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spec
}

func (d *Document) JSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.MarshalIndent(d.spec, "", "  ")
}

func (d *Document) YAML() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	intermediate, err := d.spec.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(intermediate)
}

func (d *Document) JSONHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := d.JSON()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func (d *Document) YAMLHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := d.YAML()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.Blob(http.StatusOK, "application/yaml", data)
	}
}

// Route starts documenting the operation served at method and echo path.
func (d *Document) Route(method, path string) *Operation {
	op := &Operation{
		doc:    d,
		method: strings.ToUpper(method),
		path:   toOpenAPIPath(path),
		op:     &openapi3.Operation{Responses: openapi3.NewResponses()},
	}
	op.pathParams()
	return op
}

func (d *Document) addOperation(method, path string, op *openapi3.Operation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.spec.Paths.Find(path)
	if item == nil {
		item = &openapi3.PathItem{}
		d.spec.Paths.Set(path, item)
	}
	item.SetOperation(method, op)
}

// toOpenAPIPath turns echo's :param segments into {param}.
func toOpenAPIPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if name, ok := strings.CutPrefix(part, ":"); ok {
			parts[i] = "{" + name + "}"
		}
	}
	return strings.Join(parts, "/")
}

func (d *Document) schemaFor(example any) *openapi3.SchemaRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	if example == nil {
		return objectSchema()
	}
	return d.schemaOf(reflect.TypeOf(example))
}

func (d *Document) schemaOf(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Pointer {
		ref := d.schemaOf(t.Elem())
		if ref.Ref == "" && ref.Value != nil {
			ref.Value.Nullable = true
		}
		return ref
	}

	switch t.Kind() {
	case reflect.String:
		return typed("string")
	case reflect.Bool:
		return typed("boolean")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return typed("integer")
	case reflect.Float32, reflect.Float64:
		return typed("number")
	case reflect.Slice, reflect.Array:
		ref := typed("array")
		ref.Value.Items = d.schemaOf(t.Elem())
		return ref
	case reflect.Map:
		ref := objectSchema()
		ref.Value.AdditionalProperties = openapi3.AdditionalProperties{Schema: d.schemaOf(t.Elem())}
		return ref
	case reflect.Struct:
		return d.structSchema(t)
	default:
		return objectSchema()
	}
}

// structSchema registers named structs as components and refers to them.
// Anonymous structs are inlined.
func (d *Document) structSchema(t reflect.Type) *openapi3.SchemaRef {
	if t.PkgPath() == "time" && t.Name() == "Time" {
		ref := typed("string")
		ref.Value.Format = "date-time"
		return ref
	}

	if t.Name() == "" {
		return &openapi3.SchemaRef{Value: d.buildStruct(t)}
	}

	key := t.PkgPath() + "." + t.Name()
	if name, ok := d.named[key]; ok {
		return openapi3.NewSchemaRef(schemaRefPrefix+name, d.spec.Components.Schemas[name].Value)
	}

	name := t.Name()
	if _, taken := d.spec.Components.Schemas[name]; taken {
		name = packageName(t.PkgPath()) + t.Name()
	}

	// registered before building so self references resolve to the ref
	schema := &openapi3.Schema{}
	d.named[key] = name
	d.spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: schema}
	*schema = *d.buildStruct(t)

	return openapi3.NewSchemaRef(schemaRefPrefix+name, schema)
}

func (d *Document) buildStruct(t reflect.Type) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		// embedded structs contribute their fields directly
		if field.Anonymous && name == "" {
			inner := field.Type
			if inner.Kind() == reflect.Pointer {
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				embedded := d.buildStruct(inner)
				for prop, ref := range embedded.Properties {
					schema.Properties[prop] = ref
				}
				schema.Required = append(schema.Required, embedded.Required...)
				continue
			}
		}

		if name == "" {
			name = field.Name
		}

		ref := d.schemaOf(field.Type)
		if desc := field.Tag.Get("doc"); desc != "" && ref.Ref == "" {
			ref.Value.Description = desc
		}
		schema.Properties[name] = ref

		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema
}

func packageName(pkgPath string) string {
	if i := strings.LastIndex(pkgPath, "/"); i >= 0 {
		pkgPath = pkgPath[i+1:]
	}
	if pkgPath == "" {
		return ""
	}
	return strings.ToUpper(pkgPath[:1]) + pkgPath[1:]
}

func typed(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{name}}}
}

func objectSchema() *openapi3.SchemaRef {
	return typed("object")
}
