package campaign

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"telecom-dialer/internal/outcome"
)

// File is the on-disk target list format:
//
//	campaign: spring-renewals
//	default_disposition: connected
//	targets:
//	  - id: c-1
//	    name: Ada
//	    phone: "+14155550101"
type File struct {
	Campaign           string              `yaml:"campaign"`
	DefaultDisposition outcome.Disposition `yaml:"default_disposition"`
	Targets            []Target            `yaml:"targets"`
}

var ErrInvalidFile = errors.New("campaign: invalid target file")

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return ParseFile(data)
}

// ParseFile decodes a target list. Unknown keys are rejected. Target ids
// default to their 1-based position and must be unique.
func ParseFile(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if len(f.Targets) == 0 {
		return File{}, fmt.Errorf("%w: %w", ErrInvalidFile, ErrNoTargets)
	}
	if f.DefaultDisposition != "" && !f.DefaultDisposition.Valid() {
		return File{}, fmt.Errorf("%w: default_disposition %q", ErrInvalidFile, f.DefaultDisposition)
	}

	if err := CheckTargets(f.Targets); err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return f, nil
}
