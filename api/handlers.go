package api

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"

	"annod/lib/engine"
)

// maxBodyBytes bounds store seeds and resource uploads.
const maxBodyBytes = 32 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFormatted(w http.ResponseWriter, code int, format engine.Format, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// --------------------------------------------------------------------------
// Root
// --------------------------------------------------------------------------

// handleRoot lists known stores as JSON, or serves the interactive query
// form for browsers.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r, engine.FormatStamJSON, engine.FormatHTML)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.pool.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if format == engine.FormatStamJSON {
		writeJSON(w, http.StatusOK, map[string]any{
			"@type":  "StoreList",
			"stores": ids,
		})
		return
	}

	var options strings.Builder
	for _, id := range ids {
		esc := html.EscapeString(id)
		fmt.Fprintf(&options, "<option value=\"%s\">%s</option>", esc, esc)
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>annod</title></head>
<body>
<h1>annod</h1>
<form method="post" action="/query">
<label>Store:</label> <select name="store">%s</select><br/>
<label>Query:</label><br/>
<textarea name="query" style="width: 60%%; min-height: 360px;" spellcheck="false"></textarea><br/>
<input type="submit"/>
</form>
</body></html>`, options.String())
	writeFormatted(w, http.StatusOK, engine.FormatHTML, []byte(page))
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

func (s *Server) handleQueryGet(w http.ResponseWriter, r *http.Request) {
	queryText := r.URL.Query().Get("query")
	if queryText == "" {
		writeError(w, errMissingArgument("query"))
		return
	}
	s.runQuery(w, r, r.PathValue("store"), queryText)
}

func (s *Server) handleQueryForm(w http.ResponseWriter, r *http.Request) {
	storeID := r.FormValue("store")
	queryText := r.FormValue("query")
	if storeID == "" {
		writeError(w, errMissingArgument("store"))
		return
	}
	if queryText == "" {
		writeError(w, errMissingArgument("query"))
		return
	}
	s.runQuery(w, r, storeID, queryText)
}

// runQuery is the shared dispatch path: negotiate, parse, derive the access
// mode from the query itself, execute under the right borrow, serialize.
// Negotiation and parsing both happen before any store is touched.
func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, storeID, queryText string) {
	format, err := negotiate(r,
		engine.FormatStamJSON, engine.FormatPlainText,
		engine.FormatHTML, engine.FormatWebAnnotation)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := engine.ParseQuery(queryText)
	if err != nil {
		writeError(w, err)
		return
	}

	var body []byte
	run := func(store *engine.Store, webanno *engine.WebAnnoConfig) error {
		mode := engine.ModeRead
		if !q.Readonly() {
			mode = engine.ModeWrite
		}
		rs, err := engine.Execute(q, store, mode)
		if err != nil {
			return err
		}
		body, err = engine.Serialize(rs, format, webanno)
		return err
	}

	if q.Readonly() {
		err = s.pool.Map(r.Context(), storeID, run)
	} else {
		err = s.pool.MapMut(r.Context(), storeID, run)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeFormatted(w, http.StatusOK, format, body)
}

// --------------------------------------------------------------------------
// Store Creation
// --------------------------------------------------------------------------

func (s *Server) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	if _, err := negotiate(r, engine.FormatStamJSON); err != nil {
		writeError(w, err)
		return
	}
	seed, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	storeID := r.PathValue("store")
	if err := s.pool.Create(storeID, seed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"@type": "Created",
		"@id":   storeID,
	})
}

// --------------------------------------------------------------------------
// Annotations
// --------------------------------------------------------------------------

func (s *Server) handleAnnotationList(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r, engine.FormatStamJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	var body []byte
	err = s.pool.Map(r.Context(), r.PathValue("store"), func(store *engine.Store, webanno *engine.WebAnnoConfig) error {
		rs := &engine.ResultSet{Name: "annotations"}
		for _, a := range store.Annotations() {
			text, err := store.CoveredText(a)
			if err != nil {
				return err
			}
			rs.Items = append(rs.Items, engine.Item{
				Kind: engine.ItemAnnotation, Annotation: a, Text: text,
			})
		}
		var err error
		body, err = engine.Serialize(rs, format, webanno)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeFormatted(w, http.StatusOK, format, body)
}

func (s *Server) handleAnnotationGet(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r,
		engine.FormatStamJSON, engine.FormatPlainText, engine.FormatWebAnnotation)
	if err != nil {
		writeError(w, err)
		return
	}
	annotationID := r.PathValue("id")
	var body []byte
	err = s.pool.Map(r.Context(), r.PathValue("store"), func(store *engine.Store, webanno *engine.WebAnnoConfig) error {
		a, err := store.Annotation(annotationID)
		if err != nil {
			return err
		}
		text, err := store.CoveredText(a)
		if err != nil {
			return err
		}
		rs := &engine.ResultSet{
			Name:  "annotation",
			Items: []engine.Item{{Kind: engine.ItemAnnotation, Annotation: a, Text: text}},
		}
		body, err = engine.Serialize(rs, format, webanno)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeFormatted(w, http.StatusOK, format, body)
}

// --------------------------------------------------------------------------
// Resources
// --------------------------------------------------------------------------

func (s *Server) handleResourceList(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r, engine.FormatPlainText, engine.FormatStamJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	var ids []string
	err = s.pool.Map(r.Context(), r.PathValue("store"), func(store *engine.Store, _ *engine.WebAnnoConfig) error {
		for _, res := range store.Resources() {
			ids = append(ids, res.ID)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if format == engine.FormatStamJSON {
		writeJSON(w, http.StatusOK, map[string]any{
			"@type":     "ResourceList",
			"resources": ids,
		})
		return
	}
	writeFormatted(w, http.StatusOK, format, []byte(strings.Join(ids, "\n")+"\n"))
}

func (s *Server) handleResourceGet(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r, engine.FormatStamJSON, engine.FormatPlainText)
	if err != nil {
		writeError(w, err)
		return
	}
	resourceID := r.PathValue("id")
	var body []byte
	err = s.pool.Map(r.Context(), r.PathValue("store"), func(store *engine.Store, webanno *engine.WebAnnoConfig) error {
		res, err := store.Resource(resourceID)
		if err != nil {
			return err
		}
		rs := &engine.ResultSet{
			Name:  "resource",
			Items: []engine.Item{{Kind: engine.ItemResource, Resource: res, Text: res.Text}},
		}
		body, err = engine.Serialize(rs, format, webanno)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeFormatted(w, http.StatusOK, format, body)
}

func (s *Server) handleResourceCreate(w http.ResponseWriter, r *http.Request) {
	if _, err := negotiate(r, engine.FormatStamJSON); err != nil {
		writeError(w, err)
		return
	}
	text, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resourceID := r.PathValue("id")
	err = s.pool.MapMut(r.Context(), r.PathValue("store"), func(store *engine.Store, _ *engine.WebAnnoConfig) error {
		return store.AddResource(resourceID, string(text))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"@type": "Created",
		"@id":   resourceID,
	})
}

// handleResourceSlice serves the text span [begin, end) in Unicode code
// points, end-exclusive.
func (s *Server) handleResourceSlice(w http.ResponseWriter, r *http.Request) {
	format, err := negotiate(r, engine.FormatPlainText, engine.FormatStamJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	begin, err := strconv.Atoi(r.PathValue("begin"))
	if err != nil {
		writeError(w, engine.NewError(engine.KindRange, "invalid begin offset %q", r.PathValue("begin")))
		return
	}
	end, err := strconv.Atoi(r.PathValue("end"))
	if err != nil {
		writeError(w, engine.NewError(engine.KindRange, "invalid end offset %q", r.PathValue("end")))
		return
	}

	resourceID := r.PathValue("id")
	var text string
	err = s.pool.Map(r.Context(), r.PathValue("store"), func(store *engine.Store, _ *engine.WebAnnoConfig) error {
		res, err := store.Resource(resourceID)
		if err != nil {
			return err
		}
		text, err = res.Slice(begin, end)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if format == engine.FormatStamJSON {
		writeJSON(w, http.StatusOK, map[string]any{
			"@type":    "TextSelection",
			"resource": resourceID,
			"begin":    begin,
			"end":      end,
			"text":     text,
		})
		return
	}
	writeFormatted(w, http.StatusOK, format, []byte(text))
}
