// Package cloudindex implements the persisted CloudIndex document: its
// YAML schema, version validation, and a TTL cache of parsed documents so
// repeated cutout requests against the same file don't re-fetch and
// re-parse on every call.
package cloudindex

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
	"github.com/jbcurtin/cloud-fits/internal/layout"
)

// SupportedVersion is the only CloudIndex schema version this reader
// accepts.
const SupportedVersion = "0.1.0"

// IndexKey is the object-store key the CloudIndex document is published
// under within the index bucket.
const IndexKey = "cloud-fits.yaml"

// HeaderDescriptor mirrors one HDU's header byte range and raw bytes.
type HeaderDescriptor struct {
	Offset int64  `yaml:"offset"`
	Length int64  `yaml:"length"`
	Stop   int64  `yaml:"stop"`
	Whole  []byte `yaml:"whole"`
}

// DataDescriptor mirrors one HDU's data byte range, shape, and strides.
//
// Kind is carried as a supplemental field beyond the §6 schema's documented
// keys: the schema as written has no way to distinguish a 2D uint8 Image
// (whose fastest stride is also 1 byte) from a BinTable at read time other
// than by reconstructing it from shape/stride heuristics, which is
// ambiguous in exactly that case. Persisting it explicitly removes the
// ambiguity; unknown-field-tolerant YAML readers of the schema are
// unaffected.
type DataDescriptor struct {
	Offset   int64   `yaml:"offset"`
	Length   int64   `yaml:"length"`
	Stop     int64   `yaml:"stop"`
	Shape    []int64 `yaml:"shape"`
	Strides  []int64 `yaml:"strides"`
	Size     int64   `yaml:"size"`
	DataType string  `yaml:"data_type"`
	Kind     string  `yaml:"kind"`
}

// FileHeader is one HDU entry within a FitsFileIndex.
type FileHeader struct {
	Header HeaderDescriptor `yaml:"header"`
	Data   DataDescriptor   `yaml:"data"`
}

// Index is the per-file section of a CloudIndex: one FITS file's path and
// ordered HDU descriptors.
type Index struct {
	CloudPath string       `yaml:"cloudpath"`
	Filename  string       `yaml:"filename"`
	IndexName string       `yaml:"index_name"`
	Headers   []FileHeader `yaml:"headers"`
}

// CloudIndex is the persisted top-level document.
type CloudIndex struct {
	Version         string  `yaml:"version"`
	AWSDefaultRegion string `yaml:"aws-default-region"`
	IndexBucketName string  `yaml:"index-bucket-name"`
	DataBucketPath  string  `yaml:"data-bucket-path"`
	Indices         []Index `yaml:"indicies"`
}

// Validate checks the version field and basic structural sanity of doc.
func Validate(doc CloudIndex) error {
	if doc.Version != SupportedVersion {
		return fmt.Errorf("unsupported cloud index version %q (want %q): %w", doc.Version, SupportedVersion, ferrors.IndexCorrupt)
	}
	if doc.DataBucketPath == "" {
		return fmt.Errorf("cloud index missing data-bucket-path: %w", ferrors.IndexCorrupt)
	}
	return nil
}

// Decode parses and validates a CloudIndex document from raw YAML bytes.
func Decode(raw []byte) (CloudIndex, error) {
	var doc CloudIndex
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return CloudIndex{}, fmt.Errorf("decoding cloud index: %v: %w", err, ferrors.IndexCorrupt)
	}
	if err := Validate(doc); err != nil {
		return CloudIndex{}, err
	}
	return doc, nil
}

// Encode serializes doc to its YAML representation.
func Encode(doc CloudIndex) ([]byte, error) {
	return yaml.Marshal(doc)
}

// FromHDUs builds an Index entry from a scanned file's HDU descriptors.
func FromHDUs(cloudPath, filename, indexName string, hdus []hduscan.HDU) Index {
	idx := Index{CloudPath: cloudPath, Filename: filename, IndexName: indexName}
	for _, h := range hdus {
		idx.Headers = append(idx.Headers, FileHeader{
			Header: HeaderDescriptor{
				Offset: h.HeaderOffset,
				Length: h.HeaderLength,
				Stop:   h.HeaderStop,
				Whole:  h.HeaderBytes,
			},
			Data: DataDescriptor{
				Offset:   h.DataOffset,
				Length:   h.DataLength,
				Stop:     h.DataStop,
				Shape:    h.Shape,
				Strides:  h.Strides,
				Size:     h.DataLength,
				DataType: string(h.ElementType),
				Kind:     string(h.Kind),
			},
		})
	}
	return idx
}

// ToHDU reconstructs an hduscan.HDU from a persisted FileHeader entry, for
// use by the slice planner at read time. index is this HDU's position in
// file order.
func (fh FileHeader) ToHDU(index int) hduscan.HDU {
	return hduscan.HDU{
		Index:        index,
		Kind:         hduscan.Kind(fh.Data.Kind),
		HeaderOffset: fh.Header.Offset,
		HeaderLength: fh.Header.Length,
		HeaderStop:   fh.Header.Stop,
		HeaderBytes:  fh.Header.Whole,
		DataOffset:   fh.Data.Offset,
		DataLength:   fh.Data.Length,
		DataStop:     fh.Data.Stop,
		Shape:        fh.Data.Shape,
		ElementType:  layout.ElementType(fh.Data.DataType),
		Strides:      fh.Data.Strides,
	}
}

// DefaultCacheTTL is how long a decoded CloudIndex is reused before the
// next cutout request re-fetches and re-validates it.
const DefaultCacheTTL = 5 * time.Minute
