// Package frontmatter reads and writes markdown notes that open with a YAML
// block between --- lines.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

const delim = "---\n"

var (
	ErrNoOpening = errors.New("frontmatter: missing opening --- delimiter")
	ErrNoClosing = errors.New("frontmatter: missing closing --- delimiter")
)

// Parse splits a note into its raw YAML block and body. A CRLF note is
// normalised first.
func Parse(data []byte) (fm []byte, body []byte, err error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, nil, ErrNoOpening
	}
	rest := data[len(delim):]
	if bytes.HasPrefix(rest, []byte(delim)) {
		return nil, rest[len(delim):], nil
	}
	idx := bytes.Index(rest, []byte("\n---"))
	if idx < 0 {
		return nil, nil, ErrNoClosing
	}
	fm = rest[:idx+1]
	body = rest[idx+4:]
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	}
	return fm, body, nil
}

// Decode parses data and unmarshals the YAML block into v, returning the body.
func Decode(data []byte, v any) (string, error) {
	fm, body, err := Parse(data)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(fm, v); err != nil {
		return "", fmt.Errorf("frontmatter: unmarshal: %w", err)
	}
	return string(body), nil
}

// Write marshals v as the YAML block and appends body.
func Write(v any, body string) ([]byte, error) {
	fm, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: marshal: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(delim)
	buf.Write(fm)
	buf.WriteString(delim)
	buf.WriteString(body)
	return buf.Bytes(), nil
}
