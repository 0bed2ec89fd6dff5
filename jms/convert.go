package jms

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Values stored in properties, map and stream bodies are converted on read
// following the messaging conversion table: widening numeric conversions
// and conversions to and from strings are allowed, everything else is a
// format error.

func checkValue(v interface{}, allowBytes bool) error {
	switch v.(type) {
	case bool, int8, int16, int32, int64, float32, float64, string:
		return nil
	case []byte:
		if allowBytes {
			return nil
		}
	}
	return errors.Wrapf(MessageFormatError, "Unsupported value type [%T]", v)
}

func formatError(v interface{}, to string) error {
	return errors.Wrapf(MessageFormatError, "Cannot convert [%T] to [%v]", v, to)
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		return strings.EqualFold(t, "true"), nil
	}
	return false, formatError(v, "bool")
}

func parseInt(s string, bits int) (int64, error) {
	ret, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return 0, errors.Wrapf(MessageFormatError, "Unable to parse [%v] as int%v", s, bits)
	}
	return ret, nil
}

func parseFloat(s string, bits int) (float64, error) {
	ret, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
	if err != nil {
		return 0, errors.Wrapf(MessageFormatError, "Unable to parse [%v] as float%v", s, bits)
	}
	return ret, nil
}

func toInt8(v interface{}) (int8, error) {
	switch t := v.(type) {
	case int8:
		return t, nil
	case string:
		ret, err := parseInt(t, 8)
		return int8(ret), err
	}
	return 0, formatError(v, "int8")
}

func toInt16(v interface{}) (int16, error) {
	switch t := v.(type) {
	case int8:
		return int16(t), nil
	case int16:
		return t, nil
	case string:
		ret, err := parseInt(t, 16)
		return int16(ret), err
	}
	return 0, formatError(v, "int16")
}

func toInt32(v interface{}) (int32, error) {
	switch t := v.(type) {
	case int8:
		return int32(t), nil
	case int16:
		return int32(t), nil
	case int32:
		return t, nil
	case string:
		ret, err := parseInt(t, 32)
		return int32(ret), err
	}
	return 0, formatError(v, "int32")
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return parseInt(t, 64)
	}
	return 0, formatError(v, "int64")
}

func toFloat32(v interface{}) (float32, error) {
	switch t := v.(type) {
	case float32:
		return t, nil
	case string:
		ret, err := parseFloat(t, 32)
		return float32(ret), err
	}
	return 0, formatError(v, "float32")
}

func toFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return parseFloat(t, 64)
	}
	return 0, formatError(v, "float64")
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int8:
		return strconv.FormatInt(int64(t), 10), nil
	case int16:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	}
	return "", formatError(v, "string")
}

func toBytes(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	}
	return nil, formatError(v, "[]byte")
}

var reservedNames = map[string]struct{}{
	"NULL": {}, "TRUE": {}, "FALSE": {}, "NOT": {}, "AND": {}, "OR": {},
	"BETWEEN": {}, "LIKE": {}, "IN": {}, "IS": {}, "ESCAPE": {},
}

// Property names must be valid selector identifiers.
func checkPropertyName(name string) error {
	if name == "" {
		return errors.New("Property name must not be empty")
	}

	for i, r := range name {
		if IsIdentifierStart(r) || (i > 0 && IsIdentifierPart(r)) {
			continue
		}
		return errors.Errorf("Invalid property name [%v]", name)
	}

	if _, ok := reservedNames[strings.ToUpper(name)]; ok {
		return errors.Errorf("Property name [%v] is reserved", name)
	}
	return nil
}

func IsIdentifierStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func IsIdentifierPart(r rune) bool {
	return IsIdentifierStart(r) || (r >= '0' && r <= '9')
}
