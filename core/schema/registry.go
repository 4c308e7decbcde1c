package schema

import "fmt"

// Registry owns the loaded content-type and component models. It is
// populated during bootstrap and read-only afterwards; the query engine
// never mutates it.
type Registry struct {
	models     map[string]*ContentType
	components map[string]*ContentType
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		models:     make(map[string]*ContentType),
		components: make(map[string]*ContentType),
	}
}

// Register adds a content type to the registry, deriving its
// column-to-attribute map. Component models are registered under the
// component namespace instead of the model namespace.
func (r *Registry) Register(ct *ContentType) error {
	if ct.UID == "" {
		return fmt.Errorf("content type must declare a uid")
	}
	if ct.TableName == "" {
		return fmt.Errorf("content type %s must declare a table name", ct.UID)
	}

	ct.columnToAttribute = make(map[string]string, len(ct.Attributes))
	for name, attr := range ct.Attributes {
		if attr.IsScalar() {
			ct.columnToAttribute[ct.ColumnName(name)] = name
		}
	}

	if ct.IsComponent {
		if _, exists := r.components[ct.UID]; exists {
			return fmt.Errorf("component %s is already registered", ct.UID)
		}
		r.components[ct.UID] = ct
		return nil
	}

	if _, exists := r.models[ct.UID]; exists {
		return fmt.Errorf("content type %s is already registered", ct.UID)
	}
	r.models[ct.UID] = ct
	return nil
}

// GetModel returns the content type registered under uid.
func (r *Registry) GetModel(uid string) (*ContentType, error) {
	ct, ok := r.models[uid]
	if !ok {
		return nil, fmt.Errorf("unknown content type %q", uid)
	}
	return ct, nil
}

// GetComponentModel returns the component model registered under uid.
func (r *Registry) GetComponentModel(uid string) (*ContentType, error) {
	ct, ok := r.components[uid]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", uid)
	}
	return ct, nil
}

// Models returns every registered non-component content type.
func (r *Registry) Models() []*ContentType {
	out := make([]*ContentType, 0, len(r.models))
	for _, ct := range r.models {
		out = append(out, ct)
	}
	return out
}

// Components returns every registered component model.
func (r *Registry) Components() []*ContentType {
	out := make([]*ContentType, 0, len(r.components))
	for _, ct := range r.components {
		out = append(out, ct)
	}
	return out
}
