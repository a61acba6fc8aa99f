package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/locvowork/appendsheet/internal/domain"
)

// DecodeJobJSON reads a JSON export job. Numbers are kept as json.Number so
// integers survive the trip.
func DecodeJobJSON(r io.Reader) (*domain.ExportJob, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var job domain.ExportJob
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return &job, nil
}

// DecodeJobYAML reads a YAML export job.
func DecodeJobYAML(r io.Reader) (*domain.ExportJob, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var job domain.ExportJob
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return &job, nil
}

// LoadJobFile decodes a job file, choosing JSON or YAML by extension.
func LoadJobFile(path string) (*domain.ExportJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DecodeJobJSON(bytes.NewReader(data))
	}
	return DecodeJobYAML(bytes.NewReader(data))
}
