package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tareas/internal/domain"
)

func withUser(r *http.Request, u domain.Identity) context.Context {
	return context.WithValue(r.Context(), userKey{}, u)
}

func currentUser(r *http.Request) domain.Identity {
	u, _ := r.Context().Value(userKey{}).(domain.Identity)
	return u
}

func readSubmission(r *http.Request) (Submission, error) {
	sub := Submission{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.Path, "/api"),
		Fields: map[string][]string{},
		Files:  map[string]string{},
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return sub, err
		}
		for k, v := range r.MultipartForm.Value {
			sub.Fields[k] = v
		}
		for k, files := range r.MultipartForm.File {
			if len(files) == 0 {
				continue
			}
			fh, err := files[0].Open()
			if err != nil {
				return sub, err
			}
			content, _ := io.ReadAll(fh)
			fh.Close()
			if len(content) == 0 {
				return sub, fmt.Errorf("%s: empty upload", k)
			}
			sub.Files[k] = files[0].Filename
		}
		return sub, nil
	}
	sub.JSON = map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&sub.JSON); err != nil && err != io.EOF {
		return sub, err
	}
	for k, v := range sub.JSON {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				sub.Fields[k] = append(sub.Fields[k], fmt.Sprint(item))
			}
			if len(val) == 0 {
				sub.Fields[k] = []string{}
			}
		case float64:
			sub.Fields[k] = []string{strconv.FormatFloat(val, 'f', -1, 64)}
		default:
			sub.Fields[k] = []string{fmt.Sprint(val)}
		}
	}
	return sub, nil
}

func (s Submission) first(name string) string {
	if v := s.Fields[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// value reports whether name was sent at all; a JSON null yields (nil, true).
func (s Submission) value(name string) ([]string, bool) {
	if v, ok := s.Fields[name]; ok {
		return v, true
	}
	if s.JSON != nil {
		if v, ok := s.JSON[name]; ok && v == nil {
			return nil, true
		}
	}
	return nil, false
}

func (s Submission) intValue(name string) int {
	n, _ := strconv.Atoi(s.first(name))
	return n
}

func (s Submission) ints(name string) ([]int, bool) {
	raw, ok := s.Fields[name]
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
		}
	}
	return out, true
}

// First returns the first value submitted for name.
func (s Submission) First(name string) string { return s.first(name) }
