package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeLenient parses a stored structured value into dst. It accepts
// plain JSON, JSON that was stored as a quoted JSON string, and the
// single-quoted dict repr older records were written with. Code is never
// evaluated.
func DecodeLenient(raw string, dst any) error {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	err := json.Unmarshal(data, dst)
	if err == nil {
		return nil
	}
	if data[0] == '"' {
		var inner string
		if json.Unmarshal(data, &inner) == nil {
			return DecodeLenient(inner, dst)
		}
	}
	if normalised, ok := normaliseRepr(data); ok {
		if json.Unmarshal(normalised, dst) == nil {
			return nil
		}
	}
	return err
}

// normaliseRepr rewrites single-quoted strings and the True/False/None
// literals of a repr-style dict or list into JSON.
func normaliseRepr(in []byte) ([]byte, bool) {
	if in[0] != '{' && in[0] != '[' {
		return nil, false
	}
	var out bytes.Buffer
	out.Grow(len(in))
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch {
		case c == '\'' || c == '"':
			end, ok := copyQuoted(&out, in, i)
			if !ok {
				return nil, false
			}
			i = end
		case isIdentStart(c):
			j := i
			for j < len(in) && isIdentPart(in[j]) {
				j++
			}
			switch word := string(in[i:j]); word {
			case "True":
				out.WriteString("true")
			case "False":
				out.WriteString("false")
			case "None":
				out.WriteString("null")
			default:
				out.WriteString(word)
			}
			i = j - 1
		case c == '(':
			out.WriteByte('[')
		case c == ')':
			out.WriteByte(']')
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes(), true
}

// copyQuoted writes the string literal starting at in[start] as a JSON
// string and returns the index of its closing quote.
func copyQuoted(out *bytes.Buffer, in []byte, start int) (int, bool) {
	quote := in[start]
	out.WriteByte('"')
	for i := start + 1; i < len(in); i++ {
		c := in[i]
		switch {
		case c == '\\' && i+1 < len(in):
			next := in[i+1]
			if next == '\'' {
				out.WriteByte('\'')
			} else {
				out.WriteByte('\\')
				out.WriteByte(next)
			}
			i++
		case c == quote:
			out.WriteByte('"')
			return i, true
		case c == '"':
			out.WriteString(`\"`)
		default:
			out.WriteByte(c)
		}
	}
	return 0, false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
