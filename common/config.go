package common

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v3"
)

// The goal of this package is to move configuration to a mostly runtime
// consideration.  Missing keys fall back to the supplied defaults, while
// keys that are present but cannot be converted cause a panic, terminating
// the program as soon as possible.

// In order to support a more robust configuration system, some config
// values will be encoded as different types than what is returned.
// For example, durations will not be stored in explicit time.Duration
// format, but instead will be stored as a normal integer (type: int)
// and interpreted as milliseconds.
type ConfigType string

const (
	Bool     = "bool"
	Int      = "int"
	String   = "string"
	Duration = "int(milliseconds)"
)

type ConfigMissingError struct {
	key string
}

func (c ConfigMissingError) Error() string {
	return fmt.Sprintf("Config is missing key [%s]", c.key)
}

type ConfigParsingError struct {
	expected ConfigType
	key      string
	val      interface{}
}

func (c ConfigParsingError) Error() string {
	return fmt.Sprintf("Error parsing config key [%s].  Expected type [%s], which can't be converted from [%v]", c.key, c.expected, c.val)
}

func newConfigMissingError(key string) ConfigMissingError {
	return ConfigMissingError{key}
}

func newConfigParsingError(expected ConfigType, key string, val interface{}) ConfigParsingError {
	return ConfigParsingError{expected, key, val}
}

type Configured interface {
	Config() Config
}

type Config interface {
	Keys() []string
	Get(key string) (interface{}, bool)
	Optional(key string, def string) string
	OptionalInt(key string, def int) int
	OptionalBool(key string, def bool) bool
	OptionalDuration(key string, def time.Duration) time.Duration
}

func NewEmptyConfig() Config {
	return NewConfig(nil)
}

func NewConfig(internal map[string]interface{}) Config {
	if internal == nil {
		internal = make(map[string]interface{})
	}

	return &config{internal}
}

// Reads a yaml document into a config.  Nested mappings are flattened into
// dotted keys, so that:
//
//   relay:
//     pool:
//       max: 10
//
// is addressable as "relay.pool.max".
func ReadConfig(fs afero.Fs, path string) (Config, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "Error reading config [%v]", path)
	}

	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (Config, error) {
	doc := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "Error parsing config")
	}

	flat := make(map[string]interface{})
	flatten(flat, "", doc)
	return NewConfig(flat), nil
}

func flatten(dst map[string]interface{}, prefix string, src map[string]interface{}) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if child, ok := v.(map[string]interface{}); ok {
			flatten(dst, key, child)
			continue
		}

		dst[key] = v
	}
}

type config struct {
	internal map[string]interface{}
}

func (c *config) Keys() []string {
	ret := make([]string, 0, len(c.internal))
	for k := range c.internal {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (c *config) Get(key string) (interface{}, bool) {
	val, ok := c.internal[key]
	return val, ok
}

func (c *config) Optional(key string, def string) string {
	val, err := readString(c.internal, key)
	if err == nil {
		return val
	}

	switch err.(type) {
	case ConfigMissingError:
		return def
	}

	panic(err)
}

func (c *config) OptionalInt(key string, def int) int {
	val, err := readInt(c.internal, key)
	if err == nil {
		return val
	}

	switch err.(type) {
	case ConfigMissingError:
		return def
	}

	panic(err)
}

func (c *config) OptionalBool(key string, def bool) bool {
	val, err := readBool(c.internal, key)
	if err == nil {
		return val
	}

	switch err.(type) {
	case ConfigMissingError:
		return def
	}

	panic(err)
}

func (c *config) OptionalDuration(key string, def time.Duration) time.Duration {
	val, err := readDuration(c.internal, key)
	if err == nil {
		return val
	}

	switch err.(type) {
	case ConfigMissingError:
		return def
	}

	panic(err)
}

func readString(m map[string]interface{}, key string) (string, error) {
	val, ok := m[key]
	if !ok {
		return "", newConfigMissingError(key)
	}

	switch t := val.(type) {
	case string:
		return t, nil
	case int, int64, bool, float64:
		return fmt.Sprintf("%v", t), nil
	}

	return "", newConfigParsingError(String, key, val)
}

func readInt(m map[string]interface{}, key string) (int, error) {
	val, ok := m[key]
	if !ok {
		return 0, newConfigMissingError(key)
	}

	switch t := val.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		if ret, err := strconv.Atoi(t); err == nil {
			return ret, nil
		}
	}

	return 0, newConfigParsingError(Int, key, val)
}

func readBool(m map[string]interface{}, key string) (bool, error) {
	val, ok := m[key]
	if !ok {
		return false, newConfigMissingError(key)
	}

	switch t := val.(type) {
	case bool:
		return t, nil
	case string:
		if ret, err := strconv.ParseBool(t); err == nil {
			return ret, nil
		}
	}

	return false, newConfigParsingError(Bool, key, val)
}

func readDuration(m map[string]interface{}, key string) (time.Duration, error) {
	val, ok := m[key]
	if !ok {
		return 0, newConfigMissingError(key)
	}

	switch t := val.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case string:
		if ret, err := time.ParseDuration(t); err == nil {
			return ret, nil
		}
	}

	return 0, newConfigParsingError(Duration, key, val)
}
