package engine

import (
	"strconv"
	"strings"
	"unicode"
)

// --------------------------------------------------------------------------
// Query AST
// --------------------------------------------------------------------------

type Verb uint64

const (
	VerbSelect Verb = iota // read-only retrieval
	VerbAdd                // mutating insert
	VerbDelete             // mutating removal
)

type TargetType uint64

const (
	TargetAnnotation TargetType = iota
	TargetResource
)

type ConstraintKind uint64

const (
	ConstraintID       ConstraintKind = iota // match by identifier
	ConstraintResource                       // annotations targeting a resource
	ConstraintData                           // annotations carrying set/key=value
	ConstraintText                           // exact covered-text match
)

// Constraint filters the items a SELECT returns.
type Constraint struct {
	Kind  ConstraintKind
	Set   string
	Key   string
	Value string
}

// Query is a parsed query. Only the fields relevant to its verb are set.
type Query struct {
	Verb        Verb
	Target      TargetType
	Name        string // result variable, without the '?'
	Constraints []Constraint

	// ADD ANNOTATION
	Resource string
	Begin    int
	End      int
	Data     []Datum

	// ADD RESOURCE
	NewID string
	Text  string
}

// Readonly reports whether executing the query may mutate the store. The
// dispatcher uses this to decide between shared and exclusive access.
func (q *Query) Readonly() bool {
	return q.Verb == VerbSelect
}

// --------------------------------------------------------------------------
// Tokenizer
// --------------------------------------------------------------------------

type tokenKind uint64

const (
	tokWord   tokenKind = iota // bare keyword or number
	tokString                  // double-quoted string
	tokVar                     // ?name
	tokEquals
	tokSemi
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == ';':
			toks = append(toks, token{tokSemi, ";"})
			i++
		case c == '=':
			toks = append(toks, token{tokEquals, "="})
			i++
		case c == '"':
			i++
			var sb strings.Builder
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				sb.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, NewError(KindSyntax, "unterminated string literal")
			}
			i++ // closing quote
			toks = append(toks, token{tokString, sb.String()})
		case c == '?':
			i++
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			if i == start {
				return nil, NewError(KindSyntax, "empty variable name")
			}
			toks = append(toks, token{tokVar, string(runes[start:i])})
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '-' || c == '_':
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) &&
				runes[i] != ';' && runes[i] != '=' && runes[i] != '"' {
				i++
			}
			toks = append(toks, token{tokWord, string(runes[start:i])})
		default:
			return nil, NewError(KindSyntax, "unexpected character %q", string(c))
		}
	}
	return toks, nil
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

type parser struct {
	toks []token
	pos  int
}

// ParseQuery parses query text into an AST. All failures have kind
// KindSyntax.
//
// Supported forms:
//
//	SELECT ANNOTATION ?a [WHERE ID "x"; RESOURCE "r"; DATA "set" "key" = "v"; TEXT = "t";]
//	SELECT RESOURCE ?r [WHERE ID "x"; TEXT = "t";]
//	ADD ANNOTATION ?a WITH TARGET "r" 0 5; DATA "set" "key" = "v";
//	ADD RESOURCE ?r WITH ID "x"; TEXT "hello";
//	DELETE ANNOTATION ?a WHERE ID "x";
func ParseQuery(input string) (*Query, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	verb, err := p.keyword("SELECT", "ADD", "DELETE")
	if err != nil {
		return nil, err
	}
	switch verb {
	case "SELECT":
		return p.parseSelect()
	case "ADD":
		return p.parseAdd()
	default:
		return p.parseDelete()
	}
}

func (p *parser) parseSelect() (*Query, error) {
	q := &Query{Verb: VerbSelect}
	if err := p.parseTarget(q); err != nil {
		return nil, err
	}
	name, err := p.variable()
	if err != nil {
		return nil, err
	}
	q.Name = name

	if p.done() {
		return q, nil
	}
	if _, err := p.keyword("WHERE"); err != nil {
		return nil, err
	}
	for !p.done() {
		c, err := p.parseConstraint(q.Target)
		if err != nil {
			return nil, err
		}
		q.Constraints = append(q.Constraints, *c)
		if err := p.semi(); err != nil {
			return nil, err
		}
	}
	if len(q.Constraints) == 0 {
		return nil, NewError(KindSyntax, "WHERE requires at least one constraint")
	}
	return q, nil
}

func (p *parser) parseConstraint(target TargetType) (*Constraint, error) {
	kw, err := p.keyword("ID", "RESOURCE", "DATA", "TEXT")
	if err != nil {
		return nil, err
	}
	switch kw {
	case "ID":
		v, err := p.str()
		if err != nil {
			return nil, err
		}
		return &Constraint{Kind: ConstraintID, Value: v}, nil
	case "RESOURCE":
		if target != TargetAnnotation {
			return nil, NewError(KindSyntax, "RESOURCE constraint only applies to annotations")
		}
		v, err := p.str()
		if err != nil {
			return nil, err
		}
		return &Constraint{Kind: ConstraintResource, Value: v}, nil
	case "DATA":
		if target != TargetAnnotation {
			return nil, NewError(KindSyntax, "DATA constraint only applies to annotations")
		}
		set, err := p.str()
		if err != nil {
			return nil, err
		}
		key, err := p.str()
		if err != nil {
			return nil, err
		}
		if err := p.equals(); err != nil {
			return nil, err
		}
		val, err := p.str()
		if err != nil {
			return nil, err
		}
		return &Constraint{Kind: ConstraintData, Set: set, Key: key, Value: val}, nil
	default: // TEXT
		if err := p.equals(); err != nil {
			return nil, err
		}
		v, err := p.str()
		if err != nil {
			return nil, err
		}
		return &Constraint{Kind: ConstraintText, Value: v}, nil
	}
}

func (p *parser) parseAdd() (*Query, error) {
	q := &Query{Verb: VerbAdd}
	if err := p.parseTarget(q); err != nil {
		return nil, err
	}
	name, err := p.variable()
	if err != nil {
		return nil, err
	}
	q.Name = name
	if _, err := p.keyword("WITH"); err != nil {
		return nil, err
	}

	if q.Target == TargetAnnotation {
		if _, err := p.keyword("TARGET"); err != nil {
			return nil, err
		}
		res, err := p.str()
		if err != nil {
			return nil, err
		}
		begin, err := p.number()
		if err != nil {
			return nil, err
		}
		end, err := p.number()
		if err != nil {
			return nil, err
		}
		q.Resource, q.Begin, q.End = res, begin, end
		if err := p.semi(); err != nil {
			return nil, err
		}
		for !p.done() {
			if _, err := p.keyword("DATA"); err != nil {
				return nil, err
			}
			set, err := p.str()
			if err != nil {
				return nil, err
			}
			key, err := p.str()
			if err != nil {
				return nil, err
			}
			if err := p.equals(); err != nil {
				return nil, err
			}
			val, err := p.str()
			if err != nil {
				return nil, err
			}
			q.Data = append(q.Data, Datum{Set: set, Key: key, Value: val})
			if err := p.semi(); err != nil {
				return nil, err
			}
		}
		return q, nil
	}

	// ADD RESOURCE ?r WITH ID "x"; TEXT "hello";
	if _, err := p.keyword("ID"); err != nil {
		return nil, err
	}
	id, err := p.str()
	if err != nil {
		return nil, err
	}
	q.NewID = id
	if err := p.semi(); err != nil {
		return nil, err
	}
	if _, err := p.keyword("TEXT"); err != nil {
		return nil, err
	}
	text, err := p.str()
	if err != nil {
		return nil, err
	}
	q.Text = text
	if err := p.semi(); err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, NewError(KindSyntax, "unexpected trailing input")
	}
	return q, nil
}

func (p *parser) parseDelete() (*Query, error) {
	q := &Query{Verb: VerbDelete, Target: TargetAnnotation}
	if _, err := p.keyword("ANNOTATION"); err != nil {
		return nil, err
	}
	name, err := p.variable()
	if err != nil {
		return nil, err
	}
	q.Name = name
	if _, err := p.keyword("WHERE"); err != nil {
		return nil, err
	}
	if _, err := p.keyword("ID"); err != nil {
		return nil, err
	}
	id, err := p.str()
	if err != nil {
		return nil, err
	}
	q.Constraints = append(q.Constraints, Constraint{Kind: ConstraintID, Value: id})
	if err := p.semi(); err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, NewError(KindSyntax, "unexpected trailing input")
	}
	return q, nil
}

func (p *parser) parseTarget(q *Query) error {
	kw, err := p.keyword("ANNOTATION", "RESOURCE")
	if err != nil {
		return err
	}
	if kw == "ANNOTATION" {
		q.Target = TargetAnnotation
	} else {
		q.Target = TargetResource
	}
	return nil
}

// --------------------------------------------------------------------------
// Parser Helpers
// --------------------------------------------------------------------------

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) next() (token, error) {
	if p.done() {
		return token{}, NewError(KindSyntax, "unexpected end of query")
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

// keyword consumes a word token matching one of the expected keywords
// (case-insensitive) and returns its canonical upper-case form.
func (p *parser) keyword(expected ...string) (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokWord {
		return "", NewError(KindSyntax, "expected one of %v, got %q", expected, t.text)
	}
	upper := strings.ToUpper(t.text)
	for _, e := range expected {
		if upper == e {
			return e, nil
		}
	}
	return "", NewError(KindSyntax, "expected one of %v, got %q", expected, t.text)
}

func (p *parser) variable() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokVar {
		return "", NewError(KindSyntax, "expected a ?variable, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) str() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.kind != tokString {
		return "", NewError(KindSyntax, "expected a quoted string, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) number() (int, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	if t.kind != tokWord {
		return 0, NewError(KindSyntax, "expected a number, got %q", t.text)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, NewError(KindSyntax, "invalid number %q", t.text)
	}
	return n, nil
}

func (p *parser) equals() error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t.kind != tokEquals {
		return NewError(KindSyntax, "expected '=', got %q", t.text)
	}
	return nil
}

func (p *parser) semi() error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t.kind != tokSemi {
		return NewError(KindSyntax, "expected ';', got %q", t.text)
	}
	return nil
}
