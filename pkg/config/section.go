package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Section provides typed access to one config section and records which
// options were read.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{name: name, options: opts, accessed: make(map[string]struct{})}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// lookup marks the option read and returns its raw value.
func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// GetUnusedOptions returns the sorted options that were never read.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// Get returns a string option value, or the fallback when absent.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", ErrMissingOption(s.name, option)
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.name, option)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "integer")
	}
	return i, nil
}

// IntBounds limits GetIntWithBounds. Nil fields are unchecked.
type IntBounds struct {
	MinVal *int
	MaxVal *int
}

// GetIntWithBounds returns an integer option value with bounds checking.
func (s *Section) GetIntWithBounds(option string, bounds IntBounds, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if bounds.MinVal != nil && v < *bounds.MinVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(*bounds.MinVal))
	}
	if bounds.MaxVal != nil && v > *bounds.MaxVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(*bounds.MaxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.name, option)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "float")
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
}

// GetFloatWithBounds returns a float64 option value with bounds checking.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	return v, s.checkFloat(option, v, bounds)
}

func (s *Section) checkFloat(option string, v float64, bounds FloatBounds) error {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return ErrOutOfRange(s.name, option, v, "must have minimum of "+format(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return ErrOutOfRange(s.name, option, v, "must have maximum of "+format(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return ErrOutOfRange(s.name, option, v, "must be above "+format(*bounds.Above))
	}
	return nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// GetBool returns a boolean option value.
// Accepts: 1, true, yes, on (true) and 0, false, no, off (false).
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, ErrMissingOption(s.name, option)
	}
	b, valid := parseBool(v)
	if !valid {
		return false, ErrInvalidValue(s.name, option, v, "boolean")
	}
	return b, nil
}

// GetChoice returns a string option that must be one of the valid choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// GetList returns the comma separated items of an option.
func (s *Section) GetList(option string, fallback ...[]string) ([]string, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return nil, ErrMissingOption(s.name, option)
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result, nil
}

// GetFloatList returns a comma separated list of floats, each checked
// against bounds.
func (s *Section) GetFloatList(option string, bounds FloatBounds, fallback ...[]float64) ([]float64, error) {
	if !s.HasOption(option) && len(fallback) > 0 {
		s.lookup(option)
		return fallback[0], nil
	}
	items, err := s.GetList(option)
	if err != nil {
		return nil, err
	}
	result := make([]float64, 0, len(items))
	for _, p := range items {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, ErrInvalidValue(s.name, option, p, "float")
		}
		if err := s.checkFloat(option, f, bounds); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, nil
}

// GetBoolList returns a comma separated list of booleans.
func (s *Section) GetBoolList(option string, fallback ...[]bool) ([]bool, error) {
	if !s.HasOption(option) && len(fallback) > 0 {
		s.lookup(option)
		return fallback[0], nil
	}
	items, err := s.GetList(option)
	if err != nil {
		return nil, err
	}
	result := make([]bool, 0, len(items))
	for _, p := range items {
		b, ok := parseBool(p)
		if !ok {
			return nil, ErrInvalidValue(s.name, option, p, "boolean")
		}
		result = append(result, b)
	}
	return result, nil
}
