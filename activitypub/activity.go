package activitypub

import (
	"time"
)

const (
	streamsContext  = "https://www.w3.org/ns/activitystreams"
	securityContext = "https://w3id.org/security/v1"

	// PublicAudience in a to or cc list marks an activity public.
	PublicAudience = "https://www.w3.org/ns/activitystreams#Public"
)

// An Activity is one typed federation payload: a kind from the closed
// vocabulary plus the field values its contract admits. Construct it
// with Construct or Parse; it is immutable afterwards.
type Activity struct {
	kind   Kind
	fields map[string]any
}

// Construct builds an activity of the given kind from the supplied
// field values. A mandatory field that is missing or empty fails with
// ValidationError; optional fields are filled from their defaults;
// keys outside the kind's contract are dropped.
func Construct(kind Kind, values map[string]any) (*Activity, error) {
	contract, ok := contracts[kind]
	if !ok {
		return nil, &ValidationError{Kind: kind, Cause: "unrecognized type"}
	}
	fields := make(map[string]any, len(contract))
	for _, f := range contract {
		v, present := values[f.Name]
		if present && !emptyValue(v) {
			fields[f.Name] = v
			continue
		}
		if f.Required {
			return nil, &ValidationError{Kind: kind, Field: f.Name, Cause: "is required"}
		}
		if f.Default != nil {
			fields[f.Name] = f.Default()
		}
	}
	return &Activity{kind: kind, fields: fields}, nil
}

// Parse builds an activity from decoded wire data.
func Parse(raw map[string]any) (*Activity, error) {
	tag, ok := raw["type"].(string)
	if !ok || tag == "" {
		return nil, &ValidationError{Cause: "missing type"}
	}
	kind := Kind(tag)
	if _, ok := contracts[kind]; !ok {
		return nil, &ValidationError{Kind: kind, Cause: "unrecognized type"}
	}
	if kind.IsActor() {
		// some servers omit the type tag on the embedded key block
		if key, ok := raw["publicKey"].(map[string]any); ok {
			if _, ok := key["type"]; !ok {
				key["type"] = string(PublicKeyKind)
			}
		}
	}
	return Construct(kind, raw)
}

// Serialize returns the wire form: the field values plus the type tag
// and the vocabulary marker. Actor documents carry the list-form
// context with the security vocabulary for their key block.
func (a *Activity) Serialize() map[string]any {
	out := make(map[string]any, len(a.fields)+2)
	for k, v := range a.fields {
		if v == nil {
			continue
		}
		out[k] = v
	}
	out["type"] = string(a.kind)
	if a.kind.IsActor() {
		out["@context"] = []any{
			streamsContext,
			securityContext,
			map[string]any{"schema": "http://schema.org#", "PropertyValue": "schema:PropertyValue", "value": "schema:value"},
		}
	} else {
		out["@context"] = streamsContext
	}
	return out
}

// Kind returns the activity's type tag.
func (a *Activity) Kind() Kind { return a.kind }

// ID returns the activity's canonical identifier, empty for kinds
// whose contract does not carry one.
func (a *Activity) ID() string { return a.String("id") }

// String returns the named field as a string, empty if absent or not
// a string.
func (a *Activity) String(name string) string {
	s, _ := a.fields[name].(string)
	return s
}

// Strings returns the named field as a list of strings. A bare string
// value yields a one-element list; non-string members are skipped.
func (a *Activity) Strings(name string) []string {
	switch v := a.fields[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, m := range v {
			if s, ok := m.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func (a *Activity) Bool(name string) bool {
	b, _ := a.fields[name].(bool)
	return b
}

// Float returns the named numeric field. JSON numbers decode as
// float64.
func (a *Activity) Float(name string) (float64, bool) {
	switch v := a.fields[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Map returns the named field as raw key-value data, nil if absent or
// not an object.
func (a *Activity) Map(name string) map[string]any {
	m, _ := a.fields[name].(map[string]any)
	return m
}

// Maps returns the named field as a list of raw objects, skipping
// non-object members.
func (a *Activity) Maps(name string) []map[string]any {
	v, ok := a.fields[name].([]any)
	if !ok {
		if m := a.Map(name); m != nil {
			return []map[string]any{m}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(v))
	for _, m := range v {
		if mm, ok := m.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// Object parses the named field as a nested activity. Returns nil
// without error if the field is absent or a bare identifier string.
func (a *Activity) Object(name string) (*Activity, error) {
	m := a.Map(name)
	if m == nil {
		return nil, nil
	}
	return Parse(m)
}

// ObjectOrID returns the named field as either a bare identifier or an
// embedded activity. Exactly one of the results is set on success.
func (a *Activity) ObjectOrID(name string) (string, *Activity, error) {
	if s, ok := a.fields[name].(string); ok {
		return s, nil, nil
	}
	obj, err := a.Object(name)
	if err != nil {
		return "", nil, err
	}
	if obj == nil {
		return "", nil, &ValidationError{Kind: a.kind, Field: name, Cause: "is neither an identifier nor an object"}
	}
	return "", obj, nil
}

// Time parses the named field as a timestamp, falling back from the
// timezone-aware form to naive date-time and bare date forms.
func (a *Activity) Time(name string) (time.Time, bool) {
	s := a.String(name)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// emptyValue reports whether a supplied field value counts as missing
// for the purpose of required-field checks.
func emptyValue(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	}
	return false
}
