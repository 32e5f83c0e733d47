package engine

// --------------------------------------------------------------------------
// Access Mode & Result Set
// --------------------------------------------------------------------------

// Mode tells Execute whether the caller holds shared or exclusive access.
// Mutation is only permitted under ModeWrite; this is the engine-side check
// backing the guard's arbitration.
type Mode uint64

const (
	ModeRead Mode = iota
	ModeWrite
)

type ItemKind uint64

const (
	ItemAnnotation ItemKind = iota
	ItemResource
)

// Item is one result row: an annotation or resource plus the text it covers.
type Item struct {
	Kind       ItemKind
	Annotation *Annotation
	Resource   *Resource
	Text       string
}

// ResultSet is the outcome of executing one query.
type ResultSet struct {
	Name  string // result variable name from the query
	Items []Item
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// Execute runs a parsed query against a store. Mutating queries fail with
// KindExecution when mode is ModeRead; a failed mutation leaves the store
// unchanged.
func Execute(q *Query, s *Store, mode Mode) (*ResultSet, error) {
	if !q.Readonly() && mode != ModeWrite {
		return nil, NewError(KindExecution, "mutating query requires write access")
	}
	switch q.Verb {
	case VerbSelect:
		return executeSelect(q, s)
	case VerbAdd:
		return executeAdd(q, s)
	case VerbDelete:
		return executeDelete(q, s)
	default:
		return nil, NewError(KindExecution, "unknown query verb")
	}
}

func executeSelect(q *Query, s *Store) (*ResultSet, error) {
	rs := &ResultSet{Name: q.Name}
	if q.Target == TargetAnnotation {
		for _, a := range s.Annotations() {
			ok, err := annotationMatches(s, a, q.Constraints)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			text, err := s.CoveredText(a)
			if err != nil {
				return nil, err
			}
			rs.Items = append(rs.Items, Item{Kind: ItemAnnotation, Annotation: a, Text: text})
		}
		return rs, nil
	}
	for _, r := range s.Resources() {
		if !resourceMatches(r, q.Constraints) {
			continue
		}
		rs.Items = append(rs.Items, Item{Kind: ItemResource, Resource: r, Text: r.Text})
	}
	return rs, nil
}

func annotationMatches(s *Store, a *Annotation, constraints []Constraint) (bool, error) {
	for _, c := range constraints {
		switch c.Kind {
		case ConstraintID:
			if a.ID != c.Value {
				return false, nil
			}
		case ConstraintResource:
			if a.Resource != c.Value {
				return false, nil
			}
		case ConstraintData:
			found := false
			for _, d := range a.Data {
				if d.Set == c.Set && d.Key == c.Key && d.Value == c.Value {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case ConstraintText:
			text, err := s.CoveredText(a)
			if err != nil {
				return false, err
			}
			if text != c.Value {
				return false, nil
			}
		}
	}
	return true, nil
}

func resourceMatches(r *Resource, constraints []Constraint) bool {
	for _, c := range constraints {
		switch c.Kind {
		case ConstraintID:
			if r.ID != c.Value {
				return false
			}
		case ConstraintText:
			if r.Text != c.Value {
				return false
			}
		}
	}
	return true
}

func executeAdd(q *Query, s *Store) (*ResultSet, error) {
	if q.Target == TargetAnnotation {
		id := q.Name
		if err := s.AddAnnotation(id, q.Resource, q.Begin, q.End, q.Data); err != nil {
			return nil, err
		}
		a, err := s.Annotation(id)
		if err != nil {
			return nil, err
		}
		text, err := s.CoveredText(a)
		if err != nil {
			return nil, err
		}
		return &ResultSet{
			Name:  q.Name,
			Items: []Item{{Kind: ItemAnnotation, Annotation: a, Text: text}},
		}, nil
	}
	if err := s.AddResource(q.NewID, q.Text); err != nil {
		return nil, err
	}
	r, err := s.Resource(q.NewID)
	if err != nil {
		return nil, err
	}
	return &ResultSet{
		Name:  q.Name,
		Items: []Item{{Kind: ItemResource, Resource: r, Text: r.Text}},
	}, nil
}

func executeDelete(q *Query, s *Store) (*ResultSet, error) {
	// The parser guarantees exactly one ID constraint.
	id := q.Constraints[0].Value
	if err := s.DeleteAnnotation(id); err != nil {
		return nil, err
	}
	return &ResultSet{Name: q.Name}, nil
}
