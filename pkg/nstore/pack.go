package nstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Element type tags. Packed tuples compare bytewise in the same order as
// their elements compare, so range scans over a prefix return matches in
// sorted order.
const (
	tagNil    byte = 0x00
	tagBytes  byte = 0x01
	tagString byte = 0x02
	tagInt    byte = 0x15
	tagFalse  byte = 0x26
	tagTrue   byte = 0x27
)

// Pack encodes elements into an order-preserving byte key. Supported element
// types are nil, bool, int, int64, string and []byte.
func Pack(elems ...any) ([]byte, error) {
	var buf bytes.Buffer
	for i, e := range elems {
		if err := packOne(&buf, e); err != nil {
			return nil, fmt.Errorf("pack element %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func packOne(buf *bytes.Buffer, e any) error {
	switch v := e.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		if v {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		packInt(buf, int64(v))
	case int64:
		packInt(buf, v)
	case string:
		buf.WriteByte(tagString)
		writeEscaped(buf, []byte(v))
	case []byte:
		buf.WriteByte(tagBytes)
		writeEscaped(buf, v)
	default:
		return fmt.Errorf("unsupported type %T", e)
	}
	return nil
}

func packInt(buf *bytes.Buffer, v int64) {
	var b [9]byte
	b[0] = tagInt
	binary.BigEndian.PutUint64(b[1:], uint64(v)^(1<<63))
	buf.Write(b[:])
}

// writeEscaped writes data followed by a 0x00 terminator; embedded 0x00
// bytes become 0x00 0xFF.
func writeEscaped(buf *bytes.Buffer, data []byte) {
	for _, c := range data {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
}

// Unpack decodes a key produced by Pack. Integers come back as int64.
func Unpack(key []byte) ([]any, error) {
	var out []any
	for i := 0; i < len(key); {
		tag := key[i]
		i++
		switch tag {
		case tagNil:
			out = append(out, nil)
		case tagTrue:
			out = append(out, true)
		case tagFalse:
			out = append(out, false)
		case tagInt:
			if i+8 > len(key) {
				return nil, fmt.Errorf("unpack: truncated integer at %d", i)
			}
			out = append(out, int64(binary.BigEndian.Uint64(key[i:i+8])^(1<<63)))
			i += 8
		case tagString, tagBytes:
			data, n, err := readEscaped(key[i:])
			if err != nil {
				return nil, fmt.Errorf("unpack: %w", err)
			}
			i += n
			if tag == tagString {
				out = append(out, string(data))
			} else {
				out = append(out, data)
			}
		default:
			return nil, fmt.Errorf("unpack: unknown tag 0x%02x at %d", tag, i-1)
		}
	}
	return out, nil
}

func readEscaped(b []byte) ([]byte, int, error) {
	out := []byte{}
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return out, i + 1, nil
	}
	return nil, 0, fmt.Errorf("unterminated string")
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for len(end) > 0 {
		last := len(end) - 1
		if end[last] != 0xFF {
			end[last]++
			return end
		}
		end = end[:last]
	}
	return nil
}
