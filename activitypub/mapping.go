package activitypub

import "context"

// A Mapping ties one local attribute of entity type E to one wire
// field. Value produces the wire value when serializing; Assign and
// Attach consume the parsed activity when materializing, Assign before
// the entity is first persisted (scalars and foreign keys) and Attach
// after it has an identity (associations, images). Any of the three
// may be nil for one-directional mappings.
//
// Mappings are plain data declared once per entity kind; there is no
// runtime reflection.
type Mapping[E any] struct {
	Wire   string
	Value  func(e *E) (any, bool)
	Assign func(rc *resolveCtx, a *Activity, e *E) error
	Attach func(rc *resolveCtx, a *Activity, e *E) error
}

// wireFields evaluates the outbound side of a mapping set. Two
// mappings feeding the same wire field have their lists concatenated,
// not overwritten.
func wireFields[E any](e *E, mappings []Mapping[E]) map[string]any {
	fields := make(map[string]any, len(mappings))
	for _, m := range mappings {
		if m.Value == nil {
			continue
		}
		v, ok := m.Value(e)
		if !ok {
			continue
		}
		if prev, clash := fields[m.Wire]; clash {
			if a, ok := prev.([]any); ok {
				if b, ok := v.([]any); ok {
					fields[m.Wire] = append(a, b...)
					continue
				}
			}
		}
		fields[m.Wire] = v
	}
	return fields
}

// assignAll runs the pre-persistence side of a mapping set.
func assignAll[E any](rc *resolveCtx, a *Activity, e *E, mappings []Mapping[E]) error {
	for _, m := range mappings {
		if m.Assign == nil {
			continue
		}
		if err := m.Assign(rc, a, e); err != nil {
			return err
		}
	}
	return nil
}

// attachAll runs the post-persistence side of a mapping set.
func attachAll[E any](rc *resolveCtx, a *Activity, e *E, mappings []Mapping[E]) error {
	for _, m := range mappings {
		if m.Attach == nil {
			continue
		}
		if err := m.Attach(rc, a, e); err != nil {
			return err
		}
	}
	return nil
}

// maxResolveDepth bounds recursive resolution of referenced remote
// objects. A remote graph deeper than this fails with SerializerError
// rather than fetching without bound.
const maxResolveDepth = 8

// resolveCtx carries the request context and the current resolution
// depth through a chain of nested materializations.
type resolveCtx struct {
	context.Context
	svc   *Service
	depth int
}

func (s *Service) newResolveCtx(ctx context.Context) *resolveCtx {
	return &resolveCtx{Context: ctx, svc: s}
}

// descend returns a context one level deeper, failing once the chain
// exceeds maxResolveDepth.
func (rc *resolveCtx) descend() (*resolveCtx, error) {
	if rc.depth+1 > maxResolveDepth {
		return nil, serializerErrorf("resolution depth exceeds %d, giving up", maxResolveDepth)
	}
	return &resolveCtx{Context: rc.Context, svc: rc.svc, depth: rc.depth + 1}, nil
}
