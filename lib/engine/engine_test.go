package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoStore = `{
  "@type": "AnnotationStore",
  "@id": "demo",
  "resources": [
    {"@type": "TextResource", "@id": "hello.txt", "text": "Hállo wörld"}
  ],
  "annotations": [
    {
      "@type": "Annotation",
      "@id": "a1",
      "target": {"@type": "TextSelector", "resource": "hello.txt", "begin": 0, "end": 5},
      "data": [{"set": "testset", "key": "pos", "value": "interjection"}]
    },
    {
      "@type": "Annotation",
      "@id": "a2",
      "target": {"@type": "TextSelector", "resource": "hello.txt", "begin": 6, "end": 11},
      "data": [{"set": "testset", "key": "pos", "value": "noun"}]
    }
  ]
}`

func demo(t *testing.T) *Store {
	t.Helper()
	s, err := Parse([]byte(demoStore))
	require.NoError(t, err)
	return s
}

func TestParseStoreValidatesTargets(t *testing.T) {
	s := demo(t)
	assert.Equal(t, "demo", s.ID())
	assert.Len(t, s.Annotations(), 2)
	assert.False(t, s.Changed())

	_, err := Parse([]byte(`{"@type":"AnnotationStore","@id":"x","resources":[],
		"annotations":[{"@id":"a","target":{"resource":"missing","begin":0,"end":1}}]}`))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindLoad, kind)
}

func TestSliceBoundaryLaw(t *testing.T) {
	r := &Resource{ID: "r", Text: "Hállo wörld"} // 11 code points, 13 bytes
	require.Equal(t, 11, r.Len())

	got, err := r.Slice(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "Hállo", got)

	got, err = r.Slice(6, 11)
	require.NoError(t, err)
	assert.Equal(t, "wörld", got)

	got, err = r.Slice(3, 3)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	for _, span := range [][2]int{{-1, 2}, {5, 3}, {0, 12}, {12, 12}} {
		_, err := r.Slice(span[0], span[1])
		require.Error(t, err, "span %v", span)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindRange, kind)
	}
}

func TestParseQueryForms(t *testing.T) {
	q, err := ParseQuery(`SELECT ANNOTATION ?a WHERE RESOURCE "hello.txt"; DATA "testset" "pos" = "noun";`)
	require.NoError(t, err)
	assert.True(t, q.Readonly())
	assert.Equal(t, "a", q.Name)
	assert.Len(t, q.Constraints, 2)

	q, err = ParseQuery(`ADD ANNOTATION ?a3 WITH TARGET "hello.txt" 0 2; DATA "testset" "pos" = "x";`)
	require.NoError(t, err)
	assert.False(t, q.Readonly())
	assert.Equal(t, 2, q.End)

	q, err = ParseQuery(`add resource ?r with id "new.txt"; text "hi there";`)
	require.NoError(t, err)
	assert.False(t, q.Readonly())
	assert.Equal(t, "new.txt", q.NewID)

	q, err = ParseQuery(`DELETE ANNOTATION ?a WHERE ID "a1";`)
	require.NoError(t, err)
	assert.False(t, q.Readonly())

	for _, bad := range []string{
		"",
		"FROBNICATE ?x",
		`SELECT ANNOTATION ?a WHERE`,
		`SELECT RESOURCE ?r WHERE DATA "s" "k" = "v";`,
		`ADD ANNOTATION ?a WITH TARGET "r" zero 5;`,
		`SELECT ANNOTATION ?a WHERE TEXT = "unterminated`,
	} {
		_, err := ParseQuery(bad)
		require.Error(t, err, "query %q", bad)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindSyntax, kind)
	}
}

func TestExecuteSelect(t *testing.T) {
	s := demo(t)

	q, err := ParseQuery(`SELECT ANNOTATION ?a WHERE DATA "testset" "pos" = "noun";`)
	require.NoError(t, err)
	rs, err := Execute(q, s, ModeRead)
	require.NoError(t, err)
	require.Len(t, rs.Items, 1)
	assert.Equal(t, "a2", rs.Items[0].Annotation.ID)
	assert.Equal(t, "wörld", rs.Items[0].Text)

	q, err = ParseQuery(`SELECT RESOURCE ?r`)
	require.NoError(t, err)
	rs, err = Execute(q, s, ModeRead)
	require.NoError(t, err)
	require.Len(t, rs.Items, 1)
	assert.Equal(t, "hello.txt", rs.Items[0].Resource.ID)
}

func TestExecuteMutationRequiresWriteMode(t *testing.T) {
	s := demo(t)
	q, err := ParseQuery(`ADD ANNOTATION ?a3 WITH TARGET "hello.txt" 0 2;`)
	require.NoError(t, err)

	_, err = Execute(q, s, ModeRead)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindExecution, kind)
	assert.Len(t, s.Annotations(), 2, "failed mutation must leave the store unchanged")

	rs, err := Execute(q, s, ModeWrite)
	require.NoError(t, err)
	require.Len(t, rs.Items, 1)
	assert.Equal(t, "Há", rs.Items[0].Text)
	assert.True(t, s.Changed())
}

func TestExecuteAddValidatesBeforeApply(t *testing.T) {
	s := demo(t)
	q, err := ParseQuery(`ADD ANNOTATION ?bad WITH TARGET "hello.txt" 5 99;`)
	require.NoError(t, err)
	_, err = Execute(q, s, ModeWrite)
	require.Error(t, err)
	assert.Len(t, s.Annotations(), 2)
	assert.False(t, s.Changed())
}

func TestExecuteDelete(t *testing.T) {
	s := demo(t)
	q, err := ParseQuery(`DELETE ANNOTATION ?a WHERE ID "a1";`)
	require.NoError(t, err)
	_, err = Execute(q, s, ModeWrite)
	require.NoError(t, err)
	assert.Len(t, s.Annotations(), 1)

	_, err = Execute(q, s, ModeWrite)
	require.Error(t, err, "deleting twice must fail")
}

func TestCreateRoundTrip(t *testing.T) {
	s, err := Create("fresh", []byte(demoStore))
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.ID(), "route id overrides the seed id")

	q, err := ParseQuery(`SELECT ANNOTATION ?a WHERE ID "a1";`)
	require.NoError(t, err)
	rs, err := Execute(q, s, ModeRead)
	require.NoError(t, err)
	require.Len(t, rs.Items, 1)
	assert.Equal(t, "Hállo", rs.Items[0].Text)

	empty, err := Create("empty", nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Resources())
}

func TestSerializeFormats(t *testing.T) {
	s := demo(t)
	q, err := ParseQuery(`SELECT ANNOTATION ?a WHERE RESOURCE "hello.txt";`)
	require.NoError(t, err)
	rs, err := Execute(q, s, ModeRead)
	require.NoError(t, err)

	cfg := &WebAnnoConfig{
		AnnotationBase: "http://example.org/demo/annotations/",
		ResourceBase:   "http://example.org/demo/resources/",
		Namespaces:     map[string]string{"ts": "http://example.org/ns/"},
	}

	raw, err := Serialize(rs, FormatStamJSON, cfg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"@id":"a1"`)

	raw, err = Serialize(rs, FormatPlainText, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Hállo\nwörld\n", string(raw))

	raw, err = Serialize(rs, FormatHTML, cfg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<table>")

	raw, err = Serialize(rs, FormatWebAnnotation, cfg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http://example.org/demo/annotations/a1")
	assert.Contains(t, string(raw), "TextPositionSelector")
}

func TestSerializeWebAnnoConversionErrors(t *testing.T) {
	s := demo(t)

	// Resources cannot be expressed as Web Annotations.
	q, err := ParseQuery(`SELECT RESOURCE ?r`)
	require.NoError(t, err)
	rs, err := Execute(q, s, ModeRead)
	require.NoError(t, err)
	_, err = Serialize(rs, FormatWebAnnotation, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConversion, kind)

	// Neither can annotations without data.
	require.NoError(t, s.AddAnnotation("bare", "hello.txt", 0, 1, nil))
	q, err = ParseQuery(`SELECT ANNOTATION ?a WHERE ID "bare";`)
	require.NoError(t, err)
	rs, err = Execute(q, s, ModeRead)
	require.NoError(t, err)
	_, err = Serialize(rs, FormatWebAnnotation, nil)
	require.Error(t, err)
	kind, ok = KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConversion, kind)
}

func TestNamespaceExpansion(t *testing.T) {
	cfg := &WebAnnoConfig{Namespaces: map[string]string{"ts": "http://example.org/ns/"}}
	assert.Equal(t, "http://example.org/ns/vocab", cfg.expand("ts:vocab"))
	assert.Equal(t, "other:vocab", cfg.expand("other:vocab"))
	assert.Equal(t, "plain", cfg.expand("plain"))
}

func TestMarshalRoundTrip(t *testing.T) {
	s := demo(t)
	require.NoError(t, s.AddResource("extra.txt", "more text"))
	raw, err := s.MarshalSTAM()
	require.NoError(t, err)

	again, err := Parse(raw)
	require.NoError(t, err)
	assert.Len(t, again.Resources(), 2)
	assert.Len(t, again.Annotations(), 2)
	a, err := again.Annotation("a2")
	require.NoError(t, err)
	text, err := again.CoveredText(a)
	require.NoError(t, err)
	assert.Equal(t, "wörld", text)
}
