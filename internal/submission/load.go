package submission

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// draftFile is the YAML shape of a draft. File paths are relative to the
// YAML file.
type draftFile struct {
	Draft `yaml:",inline"`

	PrimaryPath     string   `yaml:"primary"`
	AdditionalPaths []string `yaml:"additional"`
}

// LoadDrafts reads every YAML document in path as a draft and attaches the
// files it names.
func LoadDrafts(path string) ([]Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var drafts []Draft
	for i := 1; ; i++ {
		var df draftFile
		if err := dec.Decode(&df); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse %s document %d: %w", path, i, err)
		}

		d := df.Draft
		if df.PrimaryPath != "" {
			f, err := loadFile(dir, df.PrimaryPath)
			if err != nil {
				return nil, err
			}
			d.Primary = &f
		}
		for _, p := range df.AdditionalPaths {
			f, err := loadFile(dir, p)
			if err != nil {
				return nil, err
			}
			d.Additional = append(d.Additional, f)
		}
		drafts = append(drafts, d)
	}

	if len(drafts) == 0 {
		return nil, fmt.Errorf("%s contains no submissions", path)
	}
	return drafts, nil
}

func loadFile(dir, name string) (File, error) {
	if !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return File{}, fmt.Errorf("read file: %w", err)
	}
	return ReadFile(name, data), nil
}
