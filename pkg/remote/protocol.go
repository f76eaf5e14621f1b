package remote

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/babel/pkg/object"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = "1"

	// APIPrefix is the path every protocol route lives under.
	APIPrefix = "/babel/v1"

	headerProtocol  = "Babel-Protocol"
	headerAlgorithm = "Babel-Algorithm"
	contentBundle   = "application/vnd.babel.bundle+json"
)

// Error codes carried in RemoteError bodies.
const (
	CodeHashMismatch = "HASH_MISMATCH"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnavailable  = "UNAVAILABLE"
)

// Response size limits.
const (
	limitHashes = 64 << 20
	limitBundle = 32 << 20
	limitError  = 1 << 20
)

// RemoteError is a structured error from the remote server.
type RemoteError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is lets callers match remote failures against the local taxonomy.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeHashMismatch:
		return target == object.ErrHashMismatch
	case CodeNotFound:
		return target == object.ErrNotFound
	case CodeUnavailable:
		return target == object.ErrBackendUnavailable
	}
	return false
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(status int, body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	re.Status = status
	return &re
}

type hashList struct {
	Algorithm object.Algorithm `json:"algorithm"`
	Hashes    []object.Hash    `json:"hashes"`
}

// wireBundle carries an object and its variants in their stored text
// encodings, so the receiver can recompute every hash from the bytes it got.
type wireBundle struct {
	Object   []byte        `json:"object"`
	Mappings []wireMapping `json:"mappings,omitempty"`
}

type wireMapping struct {
	Language string      `json:"language"`
	Hash     object.Hash `json:"hash"`
	Payload  []byte      `json:"payload"`
}

func encodeBundle(b *object.Bundle) ([]byte, error) {
	if b == nil || b.Object == nil {
		return nil, fmt.Errorf("encode bundle: empty")
	}
	obj := *b.Object
	obj.Dependencies = nil
	wb := wireBundle{
		Object:   object.MarshalObject(&obj),
		Mappings: make([]wireMapping, 0, len(b.Mappings)),
	}
	for _, rec := range b.Mappings {
		wb.Mappings = append(wb.Mappings, wireMapping{
			Language: rec.Language,
			Hash:     rec.Hash,
			Payload:  object.MarshalMapping(&rec.Mapping),
		})
	}
	return json.Marshal(wb)
}

func decodeBundle(data []byte) (*object.Bundle, error) {
	var wb wireBundle
	if err := json.Unmarshal(data, &wb); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	obj, err := object.UnmarshalObject(wb.Object)
	if err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	b := &object.Bundle{Object: obj, Mappings: make([]object.MappingRecord, 0, len(wb.Mappings))}
	for _, wm := range wb.Mappings {
		m, err := object.UnmarshalMapping(wm.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode bundle: %w", err)
		}
		b.Mappings = append(b.Mappings, object.MappingRecord{
			Language: wm.Language,
			Hash:     wm.Hash,
			Mapping:  *m,
		})
	}
	return b, nil
}
