// Package protocol holds the registry of named protocols and the typed
// method schemas every task's params must validate against before dispatch.
package protocol

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
)

// ParamType enumerates the JSON-ish types a ParameterSpec can declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeNull    ParamType = "null"
)

// ParameterSpec describes one named parameter (or array element, or object
// property) accepted by a method.
type ParameterSpec struct {
	Type       ParamType
	Required   bool
	Default    interface{}
	Enum       []interface{}
	Minimum    *float64
	Maximum    *float64
	MinLength  *int
	MaxLength  *int
	Pattern    string
	Properties map[string]ParameterSpec // for TypeObject
	Items      *ParameterSpec           // for TypeArray

	compiledPattern *regexp.Regexp
}

// MethodSpec describes one callable method within a protocol.
type MethodSpec struct {
	Name                string
	ParamsSchema        map[string]ParameterSpec
	ReturnsSchema       map[string]ParameterSpec
	AdditionalProperties *bool // nil defaults to true, per spec
}

func (m MethodSpec) allowsAdditional() bool {
	if m.AdditionalProperties == nil {
		return true
	}
	return *m.AdditionalProperties
}

// Spec is an immutable-after-registration protocol definition, keyed by
// "{name}/{version}" once registered.
type Spec struct {
	Name        string
	Version     string
	Description string
	Methods     map[string]MethodSpec
}

// Key returns the registry key "{name}/{version}".
func (s Spec) Key() string { return s.Name + "/" + s.Version }

// Registry holds the immutable-after-registration set of protocol specs.
// Modeled on the teacher's sync.RWMutex-guarded connector registry.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a protocol spec, failing if its key is already taken.
func (r *Registry) Register(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := spec.Key()
	if _, exists := r.specs[key]; exists {
		return &errors.DuplicateProtocol{ProtocolID: key}
	}
	r.specs[key] = spec
	return nil
}

// Get returns the spec registered under protocolID ("{name}/{version}").
func (r *Registry) Get(protocolID string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[protocolID]
	return spec, ok
}

// List returns every registered protocol id.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	return ids
}

// ValidateCall resolves method on protocolID and validates params against
// its params_schema, applying required/type/enum/bounds/pattern rules and
// recursing into nested objects/arrays.
func (r *Registry) ValidateCall(protocolID, method string, params map[string]interface{}) (MethodSpec, error) {
	spec, ok := r.Get(protocolID)
	if !ok {
		return MethodSpec{}, &errors.ProviderNotFound{ProtocolID: protocolID}
	}

	m, ok := spec.Methods[method]
	if !ok {
		return MethodSpec{}, &errors.MethodNotSupported{ProtocolID: protocolID, Method: method}
	}

	if err := validateObject(params, m.ParamsSchema, m.allowsAdditional(), ""); err != nil {
		return MethodSpec{}, err
	}
	return m, nil
}

func validateObject(value map[string]interface{}, schema map[string]ParameterSpec, allowAdditional bool, pathPrefix string) error {
	for name, ps := range schema {
		v, present := value[name]
		if !present {
			if ps.Required {
				return &errors.InvalidParameter{Path: joinPath(pathPrefix, name), Reason: "required parameter missing"}
			}
			continue
		}
		if err := validateValue(v, ps, joinPath(pathPrefix, name)); err != nil {
			return err
		}
	}

	if !allowAdditional {
		for name := range value {
			if _, known := schema[name]; !known {
				return &errors.InvalidParameter{Path: joinPath(pathPrefix, name), Reason: "unknown parameter not permitted by schema"}
			}
		}
	}

	return nil
}

func validateValue(v interface{}, ps ParameterSpec, path string) error {
	if !typeMatches(v, ps.Type) {
		return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("expected type %s, got %T", ps.Type, v)}
	}

	if len(ps.Enum) > 0 && !enumContains(ps.Enum, v) {
		return &errors.InvalidParameter{Path: path, Reason: "value is not one of the permitted enum values"}
	}

	switch ps.Type {
	case TypeString:
		s := v.(string)
		if ps.MinLength != nil && len(s) < *ps.MinLength {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("length below minimum %d", *ps.MinLength)}
		}
		if ps.MaxLength != nil && len(s) > *ps.MaxLength {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("length above maximum %d", *ps.MaxLength)}
		}
		if ps.Pattern != "" {
			re := ps.compiledPattern
			if re == nil {
				var err error
				re, err = regexp.Compile(ps.Pattern)
				if err != nil {
					return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("invalid pattern in schema: %v", err)}
				}
			}
			if !re.MatchString(s) {
				return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("does not match pattern %q", ps.Pattern)}
			}
		}
	case TypeInteger, TypeNumber:
		n, _ := toFloat(v)
		if ps.Minimum != nil && n < *ps.Minimum {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("below minimum %v", *ps.Minimum)}
		}
		if ps.Maximum != nil && n > *ps.Maximum {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("above maximum %v", *ps.Maximum)}
		}
	case TypeArray:
		arr, _ := v.([]interface{})
		if ps.MinLength != nil && len(arr) < *ps.MinLength {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("array shorter than minimum %d", *ps.MinLength)}
		}
		if ps.MaxLength != nil && len(arr) > *ps.MaxLength {
			return &errors.InvalidParameter{Path: path, Reason: fmt.Sprintf("array longer than maximum %d", *ps.MaxLength)}
		}
		if ps.Items != nil {
			for i, elem := range arr {
				if err := validateValue(elem, *ps.Items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case TypeObject:
		obj, _ := v.(map[string]interface{})
		if ps.Properties != nil {
			if err := validateObject(obj, ps.Properties, true, path); err != nil {
				return err
			}
		}
	}

	return nil
}

func typeMatches(v interface{}, t ParamType) bool {
	if t == "" {
		return true
	}
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == float64(int64(f))
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeNull:
		return v == nil
	default:
		return true
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
