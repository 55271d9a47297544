package backend

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
)

// Form is an ordered multipart body. Repeated keys are sent once per value,
// which is how the backend expects id lists.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name, value string
}

type formFile struct {
	name, filename string
	content        io.Reader
}

func NewForm() *Form { return &Form{} }

func (f *Form) Add(name, value string) *Form {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

func (f *Form) AddInt(name string, v int) *Form {
	return f.Add(name, strconv.Itoa(v))
}

func (f *Form) AddInts(name string, vs []int) *Form {
	for _, v := range vs {
		f.AddInt(name, v)
	}
	return f
}

func (f *Form) File(name, filename string, content io.Reader) *Form {
	f.files = append(f.files, formFile{name: name, filename: filename, content: content})
	return f
}

// Values returns every value recorded for name.
func (f *Form) Values(name string) []string {
	var out []string
	for _, fld := range f.fields {
		if fld.name == name {
			out = append(out, fld.value)
		}
	}
	return out
}

func (f *Form) encode() (string, io.Reader, error) {
	if f == nil {
		f = &Form{}
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return "", nil, err
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.name, file.filename)
		if err != nil {
			return "", nil, err
		}
		if _, err := io.Copy(part, file.content); err != nil {
			return "", nil, fmt.Errorf("read %s: %w", file.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return w.FormDataContentType(), &buf, nil
}
