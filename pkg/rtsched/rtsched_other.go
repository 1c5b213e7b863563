//go:build !linux

package rtsched

import "stepcore/pkg/errors"

// Apply is only implemented on Linux. Options that change nothing succeed.
func Apply(o Options) error {
	if !o.Enabled() {
		return nil
	}
	return errors.Unsupported("real-time scheduling")
}

// Current is only implemented on Linux.
func Current() ([]int, bool, error) {
	return nil, false, errors.Unsupported("real-time scheduling")
}
