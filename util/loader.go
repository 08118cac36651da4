package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nvr-ai/go-npu/graph"
	"github.com/pkg/errors"
)

// DescriptorFile is a graph descriptor read from disk.
type DescriptorFile struct {
	// Path is the path to the descriptor file.
	Path string
	// Model is the decoded descriptor.
	Model *graph.Model
}

// LoadDescriptor reads a graph descriptor file.
//
// Files ending in .json are parsed as interchange JSON, which accepts quoted integers; everything
// else is decoded as ONNX protobuf.
//
// Arguments:
// - path: The descriptor file.
//
// Returns:
// - *graph.Model: The decoded descriptor. It is not validated.
// - error: Error if reading or decoding fails.
func LoadDescriptor(path string) (*graph.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading descriptor %s", path)
	}
	var m *graph.Model
	if strings.EqualFold(filepath.Ext(path), ".json") {
		m, err = graph.Parse(data)
	} else {
		m, err = graph.Decode(data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding descriptor %s", path)
	}
	return m, nil
}

// LoadDirectoryDescriptors reads every .json and .onnx descriptor in dir, sorted by file name.
//
// Arguments:
// - dir: Directory path containing descriptor files.
//
// Returns:
// - []DescriptorFile: One entry per descriptor.
// - error: Error if loading fails.
func LoadDirectoryDescriptors(dir string) ([]DescriptorFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []DescriptorFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(file.Name())) {
		case ".json", ".onnx":
			path := filepath.Join(dir, file.Name())
			m, err := LoadDescriptor(path)
			if err != nil {
				return nil, err
			}
			out = append(out, DescriptorFile{Path: path, Model: m})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out, nil
}
