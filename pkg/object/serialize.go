package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Tuples
// ---------------------------------------------------------------------------

// SortTuples orders tuples by node id, then attribute key, then index. This
// is the total order the canonical serialization is defined over.
func SortTuples(tuples []Tuple) {
	sort.Slice(tuples, func(i, j int) bool {
		a, b := tuples[i], tuples[j]
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Index < b.Index
	})
}

// MarshalTuples serializes a tuple set to its canonical bytes, one tuple per
// line in SortTuples order:
//
//	<node> <quoted key> <index> <quoted value>
//
// The input slice is not modified.
func MarshalTuples(tuples []Tuple) []byte {
	sorted := make([]Tuple, len(tuples))
	copy(sorted, tuples)
	SortTuples(sorted)

	var buf bytes.Buffer
	for _, t := range sorted {
		buf.WriteString(strconv.Itoa(t.Node))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Quote(t.Key))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(t.Index))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Quote(t.Value))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// UnmarshalTuples parses the output of MarshalTuples.
func UnmarshalTuples(data []byte) ([]Tuple, error) {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	out := make([]Tuple, 0, len(lines))
	for _, line := range lines {
		t, err := parseTupleLine(line)
		if err != nil {
			return nil, fmt.Errorf("unmarshal tuples: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTupleLine(line string) (Tuple, error) {
	var t Tuple
	nodeText, rest, ok := strings.Cut(line, " ")
	if !ok {
		return t, fmt.Errorf("malformed tuple %q", line)
	}
	node, err := strconv.Atoi(nodeText)
	if err != nil {
		return t, fmt.Errorf("malformed node id in %q", line)
	}
	key, rest, err := cutQuoted(rest)
	if err != nil {
		return t, fmt.Errorf("malformed key in %q: %w", line, err)
	}
	rest = strings.TrimPrefix(rest, " ")
	indexText, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return t, fmt.Errorf("malformed tuple %q", line)
	}
	index, err := strconv.Atoi(indexText)
	if err != nil {
		return t, fmt.Errorf("malformed index in %q", line)
	}
	value, rest, err := cutQuoted(rest)
	if err != nil {
		return t, fmt.Errorf("malformed value in %q: %w", line, err)
	}
	if rest != "" {
		return t, fmt.Errorf("trailing data in %q", line)
	}
	return Tuple{Node: node, Key: key, Index: index, Value: value}, nil
}

// cutQuoted reads one Go-quoted string from the front of s.
func cutQuoted(s string) (string, string, error) {
	quoted, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", "", err
	}
	val, err := strconv.Unquote(quoted)
	if err != nil {
		return "", "", err
	}
	return val, s[len(quoted):], nil
}

// ---------------------------------------------------------------------------
// CodeObject
// ---------------------------------------------------------------------------

// MarshalObject serializes a CodeObject descriptor:
//
//	schema 1
//	hash H
//	algorithm sha256
//	author "A U Thor <a@example.com>"
//	timestamp 1700000000
//	tag "x"
//
//	<MarshalTuples body>
//
// The body is exactly the payload the object hash was computed over.
// Dependencies are derived data and are stored separately.
func MarshalObject(o *CodeObject) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "schema %d\n", SchemaVersion)
	fmt.Fprintf(&buf, "hash %s\n", o.Hash)
	alg := o.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	fmt.Fprintf(&buf, "algorithm %s\n", alg)
	fmt.Fprintf(&buf, "author %s\n", strconv.Quote(o.Metadata.Author))
	fmt.Fprintf(&buf, "timestamp %d\n", o.Metadata.Timestamp)
	for _, tag := range o.Metadata.Tags {
		fmt.Fprintf(&buf, "tag %s\n", strconv.Quote(tag))
	}
	buf.WriteByte('\n')
	buf.Write(MarshalTuples(o.Tuples))
	return buf.Bytes()
}

// UnmarshalObject parses a CodeObject descriptor. It does not verify the
// hash; callers that need integrity recompute it.
func UnmarshalObject(data []byte) (*CodeObject, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal object: missing header/body separator")
	}
	header := string(data[:idx])
	body := data[idx+2:]

	o := &CodeObject{}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal object: malformed header line %q", line)
		}
		switch key {
		case "schema":
			v, err := strconv.Atoi(val)
			if err != nil || v != SchemaVersion {
				return nil, fmt.Errorf("unmarshal object: unsupported schema %q", val)
			}
		case "hash":
			o.Hash = Hash(val)
		case "algorithm":
			o.Algorithm = Algorithm(val)
		case "author":
			author, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal object: bad author: %w", err)
			}
			o.Metadata.Author = author
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal object: bad timestamp: %w", err)
			}
			o.Metadata.Timestamp = ts
		case "tag":
			tag, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal object: bad tag: %w", err)
			}
			o.Metadata.Tags = append(o.Metadata.Tags, tag)
		default:
			return nil, fmt.Errorf("unmarshal object: unknown header key %q", key)
		}
	}
	tuples, err := UnmarshalTuples(body)
	if err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	o.Tuples = tuples
	return o, nil
}

// ---------------------------------------------------------------------------
// Mapping
// ---------------------------------------------------------------------------

// MarshalMapping serializes a mapping variant payload. Names are sorted by
// placeholder and aliases by hash; layout keeps its order.
//
//	docstring "Add two numbers"
//	comment ""
//	name _v_0 "add"
//	alias H "helper"
//	layout "def "
func MarshalMapping(m *Mapping) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "docstring %s\n", strconv.Quote(m.Docstring))
	fmt.Fprintf(&buf, "comment %s\n", strconv.Quote(m.Comment))

	placeholders := make([]string, 0, len(m.Names))
	for p := range m.Names {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)
	for _, p := range placeholders {
		fmt.Fprintf(&buf, "name %s %s\n", p, strconv.Quote(m.Names[p]))
	}

	refs := make([]string, 0, len(m.Aliases))
	for h := range m.Aliases {
		refs = append(refs, string(h))
	}
	sort.Strings(refs)
	for _, h := range refs {
		fmt.Fprintf(&buf, "alias %s %s\n", h, strconv.Quote(m.Aliases[Hash(h)]))
	}

	for _, gap := range m.Layout {
		fmt.Fprintf(&buf, "layout %s\n", strconv.Quote(gap))
	}
	return buf.Bytes()
}

// UnmarshalMapping parses a mapping variant payload.
func UnmarshalMapping(data []byte) (*Mapping, error) {
	m := &Mapping{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return m, nil
	}
	for _, line := range strings.Split(text, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal mapping: malformed line %q", line)
		}
		switch key {
		case "docstring", "comment", "layout":
			s, rest, err := cutQuoted(val)
			if err != nil || rest != "" {
				return nil, fmt.Errorf("unmarshal mapping: bad %s in %q", key, line)
			}
			switch key {
			case "docstring":
				m.Docstring = s
			case "comment":
				m.Comment = s
			default:
				m.Layout = append(m.Layout, s)
			}
		case "name", "alias":
			ident, quoted, ok := strings.Cut(val, " ")
			if !ok {
				return nil, fmt.Errorf("unmarshal mapping: malformed %s %q", key, line)
			}
			name, rest, err := cutQuoted(quoted)
			if err != nil || rest != "" {
				return nil, fmt.Errorf("unmarshal mapping: bad %s in %q", key, line)
			}
			if key == "name" {
				if m.Names == nil {
					m.Names = make(map[string]string)
				}
				m.Names[ident] = name
			} else {
				if m.Aliases == nil {
					m.Aliases = make(map[Hash]string)
				}
				m.Aliases[Hash(ident)] = name
			}
		default:
			return nil, fmt.Errorf("unmarshal mapping: unknown key %q", key)
		}
	}
	return m, nil
}
