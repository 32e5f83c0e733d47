package engine

import (
	"encoding/json"
	"os"
)

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// Resource is a named unit of plain text that annotations point into.
type Resource struct {
	ID   string `json:"@id"`
	Text string `json:"text"`
}

// Datum is one key/value pair of annotation data, grouped into a named set.
// Set names may carry a namespace prefix ("ns:vocab") that output formatting
// can remap to a full URL.
type Datum struct {
	Set   string `json:"set"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Annotation is a stand-off annotation: it references a span of a resource
// by Unicode code-point offsets (end-exclusive) instead of embedding markup.
type Annotation struct {
	ID       string  `json:"@id"`
	Resource string  `json:"resource"`
	Begin    int     `json:"begin"`
	End      int     `json:"end"`
	Data     []Datum `json:"data,omitempty"`
}

// Store is one loaded annotation store: resources plus their annotations.
// The store keeps insertion order so listings and serializations are stable.
type Store struct {
	id          string
	filename    string
	changed     bool
	resources   map[string]*Resource
	resourceIDs []string
	annotations map[string]*Annotation
	annotIDs    []string
}

// --------------------------------------------------------------------------
// STAM-JSON wire format
// --------------------------------------------------------------------------

type storeJSON struct {
	Type        string           `json:"@type"`
	ID          string           `json:"@id"`
	Resources   []resourceJSON   `json:"resources"`
	Annotations []annotationJSON `json:"annotations"`
}

type resourceJSON struct {
	Type string `json:"@type"`
	ID   string `json:"@id"`
	Text string `json:"text"`
}

type annotationJSON struct {
	Type   string     `json:"@type"`
	ID     string     `json:"@id"`
	Target targetJSON `json:"target"`
	Data   []Datum    `json:"data,omitempty"`
}

type targetJSON struct {
	Type     string `json:"@type"`
	Resource string `json:"resource"`
	Begin    int    `json:"begin"`
	End      int    `json:"end"`
}

// --------------------------------------------------------------------------
// Construction, loading and saving
// --------------------------------------------------------------------------

// NewStore creates an empty store with the given id.
func NewStore(id string) *Store {
	return &Store{
		id:          id,
		resources:   make(map[string]*Resource),
		annotations: make(map[string]*Annotation),
	}
}

// Load reads and parses a store file. On any failure the returned error has
// kind KindLoad and carries the parser's diagnostic.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(KindLoad, "cannot read store file: %v", err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s.filename = path
	return s, nil
}

// Create builds a store from optional STAM-JSON seed content. An empty seed
// yields an empty store. The id given here is canonical and overrides any id
// declared in the seed.
func Create(id string, seed []byte) (*Store, error) {
	if len(seed) == 0 {
		return NewStore(id), nil
	}
	s, err := Parse(seed)
	if err != nil {
		return nil, err
	}
	s.id = id
	return s, nil
}

// Parse decodes STAM-JSON bytes into a store and validates all annotation
// targets against the resource texts.
func Parse(raw []byte) (*Store, error) {
	var doc storeJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewError(KindLoad, "invalid STAM-JSON: %v", err)
	}
	if doc.Type != "" && doc.Type != "AnnotationStore" {
		return nil, NewError(KindLoad, "unexpected root @type %q", doc.Type)
	}
	s := NewStore(doc.ID)
	for _, r := range doc.Resources {
		if err := s.AddResource(r.ID, r.Text); err != nil {
			return nil, NewError(KindLoad, "resource %q: %v", r.ID, err)
		}
	}
	for _, a := range doc.Annotations {
		err := s.AddAnnotation(a.ID, a.Target.Resource, a.Target.Begin, a.Target.End, a.Data)
		if err != nil {
			return nil, NewError(KindLoad, "annotation %q: %v", a.ID, err)
		}
	}
	s.changed = false
	return s, nil
}

// Save writes the store back to its assigned filename if it has unsaved
// changes. A store without a filename cannot be saved.
func (s *Store) Save() error {
	if !s.changed {
		return nil
	}
	if s.filename == "" {
		return NewError(KindExecution, "store %q has no filename", s.id)
	}
	raw, err := s.MarshalSTAM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.filename, raw, 0o644); err != nil {
		return NewError(KindExecution, "cannot write store file: %v", err)
	}
	s.changed = false
	return nil
}

// MarshalSTAM serializes the full store as STAM-JSON.
func (s *Store) MarshalSTAM() ([]byte, error) {
	doc := storeJSON{
		Type:        "AnnotationStore",
		ID:          s.id,
		Resources:   make([]resourceJSON, 0, len(s.resourceIDs)),
		Annotations: make([]annotationJSON, 0, len(s.annotIDs)),
	}
	for _, id := range s.resourceIDs {
		r := s.resources[id]
		doc.Resources = append(doc.Resources, resourceJSON{Type: "TextResource", ID: r.ID, Text: r.Text})
	}
	for _, id := range s.annotIDs {
		a := s.annotations[id]
		doc.Annotations = append(doc.Annotations, annotationJSON{
			Type: "Annotation",
			ID:   a.ID,
			Target: targetJSON{
				Type:     "TextSelector",
				Resource: a.Resource,
				Begin:    a.Begin,
				End:      a.End,
			},
			Data: a.Data,
		})
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, NewError(KindExecution, "cannot marshal store: %v", err)
	}
	return raw, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the store's identifier.
func (s *Store) ID() string { return s.id }

// SetFilename assigns the on-disk location used by Save.
func (s *Store) SetFilename(path string) { s.filename = path }

// Changed reports whether the store has been mutated since load or save.
func (s *Store) Changed() bool { return s.changed }

// MarkChanged forces the store to be considered dirty, so the next Save
// writes it out even if no mutation ran. Used for newly created stores that
// have never reached disk.
func (s *Store) MarkChanged() { s.changed = true }

// Resources returns all resources in insertion order.
func (s *Store) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.resourceIDs))
	for _, id := range s.resourceIDs {
		out = append(out, s.resources[id])
	}
	return out
}

// Annotations returns all annotations in insertion order.
func (s *Store) Annotations() []*Annotation {
	out := make([]*Annotation, 0, len(s.annotIDs))
	for _, id := range s.annotIDs {
		out = append(out, s.annotations[id])
	}
	return out
}

// Resource looks up a resource by id.
func (s *Store) Resource(id string) (*Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, NewError(KindNotFound, "no such resource: %q", id)
	}
	return r, nil
}

// Annotation looks up an annotation by id.
func (s *Store) Annotation(id string) (*Annotation, error) {
	a, ok := s.annotations[id]
	if !ok {
		return nil, NewError(KindNotFound, "no such annotation: %q", id)
	}
	return a, nil
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// AddResource inserts a new text resource. Fails with KindConflict if the id
// is already taken.
func (s *Store) AddResource(id, text string) error {
	if id == "" {
		return NewError(KindExecution, "resource id must not be empty")
	}
	if _, exists := s.resources[id]; exists {
		return NewError(KindConflict, "resource %q already exists", id)
	}
	s.resources[id] = &Resource{ID: id, Text: text}
	s.resourceIDs = append(s.resourceIDs, id)
	s.changed = true
	return nil
}

// AddAnnotation inserts a new annotation after validating its target span.
// A failed insert leaves the store unchanged.
func (s *Store) AddAnnotation(id, resource string, begin, end int, data []Datum) error {
	if id == "" {
		return NewError(KindExecution, "annotation id must not be empty")
	}
	if _, exists := s.annotations[id]; exists {
		return NewError(KindConflict, "annotation %q already exists", id)
	}
	r, ok := s.resources[resource]
	if !ok {
		return NewError(KindNotFound, "no such resource: %q", resource)
	}
	if _, err := r.Slice(begin, end); err != nil {
		return err
	}
	s.annotations[id] = &Annotation{ID: id, Resource: resource, Begin: begin, End: end, Data: data}
	s.annotIDs = append(s.annotIDs, id)
	s.changed = true
	return nil
}

// DeleteAnnotation removes an annotation by id.
func (s *Store) DeleteAnnotation(id string) error {
	if _, ok := s.annotations[id]; !ok {
		return NewError(KindNotFound, "no such annotation: %q", id)
	}
	delete(s.annotations, id)
	for i, aid := range s.annotIDs {
		if aid == id {
			s.annotIDs = append(s.annotIDs[:i], s.annotIDs[i+1:]...)
			break
		}
	}
	s.changed = true
	return nil
}

// --------------------------------------------------------------------------
// Text slicing
// --------------------------------------------------------------------------

// Slice returns the text span [begin, end) in Unicode code points.
// begin == end yields an empty string; out-of-bounds or inverted offsets
// fail with KindRange.
func (r *Resource) Slice(begin, end int) (string, error) {
	runes := []rune(r.Text)
	if begin < 0 || end < 0 || begin > end || end > len(runes) {
		return "", NewError(KindRange, "invalid span %d:%d for resource %q (length %d)",
			begin, end, r.ID, len(runes))
	}
	return string(runes[begin:end]), nil
}

// Len returns the resource text length in Unicode code points.
func (r *Resource) Len() int {
	return len([]rune(r.Text))
}

// CoveredText returns the text span an annotation points at.
func (s *Store) CoveredText(a *Annotation) (string, error) {
	r, err := s.Resource(a.Resource)
	if err != nil {
		return "", err
	}
	return r.Slice(a.Begin, a.End)
}
