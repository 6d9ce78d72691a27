package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrTrailingData is returned by Parse when input continues after the value.
var ErrTrailingData = errors.New("record: trailing data after JSON value")

// NewDecoder returns a json.Decoder configured for Decode.
func NewDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// Decode reads the next JSON value from dec, keeping object key order.
// The decoder must have UseNumber enabled (see NewDecoder).
func Decode(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("record: unexpected delimiter %q", t)
		}
	case json.Number:
		return Number(t), nil
	case float64:
		return t, nil
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("record: unexpected token %T", tok)
	}
}

func decodeObject(dec *json.Decoder) (*Object, error) {
	obj := NewObject(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("record: object key is %T, not string", tok)
		}
		v, err := Decode(dec)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := make([]any, 0, 4)
	for dec.More() {
		v, err := Decode(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

// Number converts a JSON number literal to int64 when it is an integer that
// fits, otherwise to float64. Literals that overflow float64 stay strings.
func Number(n json.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil {
		return f
	}
	return string(n)
}

// Parse decodes exactly one JSON value from data.
func Parse(data []byte) (any, error) {
	dec := NewDecoder(bytes.NewReader(data))
	v, err := Decode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return v, nil
}

// ParseString is Parse for string input.
func ParseString(s string) (any, error) {
	return Parse([]byte(s))
}
