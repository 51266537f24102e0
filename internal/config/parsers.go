// Package config loads tankpilot settings from an optional config file and
// command-line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// binding ties the accepted spellings of a file key to the field it sets.
// The first key is used in error messages.
type binding struct {
	keys []string
	set  func(raw interface{}) error
}

func bind(set func(raw interface{}) error, keys ...string) binding {
	return binding{keys: keys, set: set}
}

// applyBindings runs every binding whose key is present in settings.
func applyBindings(settings map[string]interface{}, bindings []binding) error {
	for _, b := range bindings {
		raw, ok := lookupSetting(settings, b.keys...)
		if !ok {
			continue
		}
		if err := b.set(raw); err != nil {
			return fmt.Errorf("%s: %w", b.keys[0], err)
		}
	}
	return nil
}

func stringInto(dst *string) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asString(raw)
		*dst = v
		return err
	}
}

func stringsInto(dst *[]string) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asStringSlice(raw)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func intInto(dst *int) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asInt(raw)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func floatInto(dst *float64) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asFloat64(raw)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func boolInto(dst *bool) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asBool(raw)
		if err == nil {
			*dst = v
		}
		return err
	}
}

func durationInto(dst *time.Duration) func(interface{}) error {
	return func(raw interface{}) error {
		v, err := asDuration(raw)
		if err == nil {
			*dst = v
		}
		return err
	}
}

// lookupSetting returns the first candidate key present in settings, also
// trying its lowercase form since viper lowercases file keys.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		for _, k := range []string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// number widens any numeric value to float64. Blank strings count as zero.
func number(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	return 0, fmt.Errorf("unsupported numeric type %T", value)
}

func asInt(value interface{}) (int, error) {
	n, err := number(value)
	return int(n), err
}

func asFloat64(value interface{}) (float64, error) {
	n, err := number(value)
	return n, err
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return strconv.ParseBool(s)
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported boolean type %T", value)
}

// asDuration accepts time.Duration, duration strings ("500ms", "2s") and
// plain numbers, which are read as seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return time.ParseDuration(s)
		}
		return 0, nil
	}
	n, err := number(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(time.Second)), nil
}

// asStringSlice accepts YAML/JSON lists and comma-separated strings.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, _ := asString(item)
			out = append(out, s)
		}
		return out, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	}
	return nil, fmt.Errorf("unsupported list type %T", value)
}

// toStringKeyMap normalizes a decoded nested section to lowercase string keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			out[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			s, _ := asString(key)
			out[strings.ToLower(strings.TrimSpace(s))] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return out, nil
}
