package load

import (
	"fmt"
	"strings"
)

// Format is an output format.
type Format string

// Output formats.
const (
	FormatCSV      Format = "csv"
	FormatParquet  Format = "parquet"
	FormatPostgres Format = "postgres"
)

// UnmarshalText validates the format name.
func (f *Format) UnmarshalText(text []byte) error {
	switch v := Format(strings.ToLower(string(text))); v {
	case FormatCSV, FormatParquet, FormatPostgres:
		*f = v
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want csv, parquet or postgres)", string(text))
	}
}

// Compression is an output codec. Which values apply depends on the format.
type Compression string

// Codecs.
const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

// UnmarshalText validates the codec name. Empty means none.
func (c *Compression) UnmarshalText(text []byte) error {
	switch v := Compression(strings.ToLower(string(text))); v {
	case CompressionNone, CompressionGzip, CompressionSnappy, CompressionZstd:
		*c = v
	case "", "uncompressed":
		*c = CompressionNone
	default:
		return fmt.Errorf("unknown compression %q", string(text))
	}
	return nil
}

// Spec describes one output.
type Spec struct {
	Format      Format      `koanf:"format" validate:"required,oneof=csv parquet postgres"`
	Path        string      `koanf:"path" validate:"required"`
	Compression Compression `koanf:"compression" validate:"omitempty,oneof=none gzip snappy zstd"`
}

// Validate checks that the codec is supported by the format.
func (s Spec) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("output path is required")
	}
	c := s.codec()
	switch s.Format {
	case FormatCSV:
		if c == CompressionZstd {
			return fmt.Errorf("csv output supports none, gzip or snappy compression, not %s", c)
		}
	case FormatParquet:
	case FormatPostgres:
		if c != CompressionNone {
			return fmt.Errorf("postgres output does not take a compression")
		}
	default:
		return fmt.Errorf("unknown output format %q", s.Format)
	}
	return nil
}

func (s Spec) codec() Compression {
	if s.Compression == "" {
		return CompressionNone
	}
	return s.Compression
}

// FilePath returns the path that is actually written. Compressed CSV gets the
// codec's extension appended.
func (s Spec) FilePath() string {
	if s.Format != FormatCSV {
		return s.Path
	}
	switch s.codec() {
	case CompressionGzip:
		if !strings.HasSuffix(s.Path, ".gz") {
			return s.Path + ".gz"
		}
	case CompressionSnappy:
		if !strings.HasSuffix(s.Path, ".sz") {
			return s.Path + ".sz"
		}
	}
	return s.Path
}
