package config

import (
	"strings"

	"stepcore/pkg/errors"
)

// Pin is a parsed pin specification: `[^|~][!]name`.
type Pin struct {
	Name   string
	Invert bool // '!' prefix
	Pullup int  // 1 = up ('^'), -1 = down ('~'), 0 = none
}

// String returns the pin in specification form.
func (p Pin) String() string {
	var sb strings.Builder
	switch p.Pullup {
	case 1:
		sb.WriteByte('^')
	case -1:
		sb.WriteByte('~')
	}
	if p.Invert {
		sb.WriteByte('!')
	}
	sb.WriteString(p.Name)
	return sb.String()
}

// PinOptions specifies which prefixes a pin option accepts.
type PinOptions struct {
	CanInvert bool
	CanPullup bool
}

// ParsePin parses a pin specification such as "GPIO17", "!GPIO27" or
// "^!GPIO22".
func ParsePin(desc string, opts PinOptions) (Pin, error) {
	d := strings.TrimSpace(desc)
	var p Pin
	if opts.CanPullup && d != "" {
		switch d[0] {
		case '^':
			p.Pullup = 1
			d = strings.TrimSpace(d[1:])
		case '~':
			p.Pullup = -1
			d = strings.TrimSpace(d[1:])
		}
	}
	if opts.CanInvert && d != "" && d[0] == '!' {
		p.Invert = true
		d = strings.TrimSpace(d[1:])
	}
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin name in specification: "+desc)
	}
	if strings.ContainsAny(d, "^~!: ") {
		return Pin{}, NewConfigError("", "", "invalid characters in pin name: "+desc)
	}
	p.Name = d
	return p, nil
}

// GetPin returns a Pin option value from the section.
func (s *Section) GetPin(option string, opts PinOptions) (Pin, error) {
	v, err := s.Get(option)
	if err != nil {
		return Pin{}, err
	}
	pin, err := ParsePin(v, opts)
	if err != nil {
		if e, ok := err.(*errors.EngineError); ok {
			e.SetSection(s.name).SetOption(option)
		}
		return Pin{}, err
	}
	return pin, nil
}

// GetPinOptional returns a Pin option value, or nil if not present.
func (s *Section) GetPinOptional(option string, opts PinOptions) (*Pin, error) {
	if !s.HasOption(option) {
		return nil, nil
	}
	pin, err := s.GetPin(option, opts)
	if err != nil {
		return nil, err
	}
	return &pin, nil
}
