// Package build implements the Citadel image build pipeline (spec §4.9):
// copy, pad, prepend header block, generate the verity hash tree, sha256
// the padded payload, optionally compress, compose and sign the header,
// and emit the final `.img` file.
//
// Grounded on the teacher's internal/image/rawmaker.BuildRawImage (the
// sequential step/cleanup/defer shape is reused almost directly) and
// cmd/image-composer/validate.go (JSON-schema validation of the build
// config before running the pipeline).
package build

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/subgraph/citadel/internal/header"
)

// Config is the build-config TOML document (spec §4.9, §6).
type Config struct {
	ImageType     string `toml:"image-type"`
	Channel       string `toml:"channel"`
	Version       uint32 `toml:"version"`
	Source        string `toml:"source"`
	KernelVersion string `toml:"kernel-version,omitempty"`
	KernelID      string `toml:"kernel-id,omitempty"`
	RealmFSName   string `toml:"realmfs-name,omitempty"`
	Compress      bool   `toml:"compress,omitempty"`
	Timestamp     string `toml:"timestamp,omitempty"`
}

// configSchema is the JSON schema the decoded build-config is validated
// against before the pipeline runs, mirroring the teacher's template
// validation step (cmd/image-composer/validate.go).
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["image-type", "channel", "version", "source"],
	"properties": {
		"image-type": {"enum": ["rootfs", "extra", "modules", "kernel", "realmfs"]},
		"channel": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 0},
		"source": {"type": "string", "minLength": 1},
		"kernel-version": {"type": "string"},
		"kernel-id": {"type": "string"},
		"realmfs-name": {"type": "string"},
		"compress": {"type": "boolean"},
		"timestamp": {"type": "string"}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("citadel-build-config.json", strings.NewReader(configSchema)); err != nil {
		panic("build: invalid embedded config schema: " + err.Error())
	}
	s, err := c.Compile("citadel-build-config.json")
	if err != nil {
		panic("build: compile embedded config schema: " + err.Error())
	}
	return s
}

// LoadConfig reads, schema-validates, and decodes a build-config TOML
// file (spec §4.9, §6 "Build-config TOML").
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("build: read config %s: %w", path, err)
	}

	var generic map[string]interface{}
	if err := toml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("build: parse config %s: %w", path, err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("build: config %s failed schema validation: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("build: decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate enforces the cross-field rules spec §6 calls out beyond what
// the JSON schema expresses: modules requires kernel-version, realmfs
// requires realmfs-name, and source must exist as a regular file whose
// size is a multiple of 512.
func (c *Config) Validate() error {
	switch c.ImageType {
	case header.ImageTypeRootfs, header.ImageTypeExtra, header.ImageTypeModules,
		header.ImageTypeKernel, header.ImageTypeRealmFS:
	default:
		return fmt.Errorf("build: invalid image-type %q", c.ImageType)
	}
	if c.ImageType == header.ImageTypeModules && c.KernelVersion == "" {
		return fmt.Errorf("build: image-type modules requires kernel-version")
	}
	if c.ImageType == header.ImageTypeRealmFS && c.RealmFSName == "" {
		return fmt.Errorf("build: image-type realmfs requires realmfs-name")
	}
	info, err := os.Stat(c.Source)
	if err != nil {
		return fmt.Errorf("build: source %q: %w", c.Source, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("build: source %q is not a regular file", c.Source)
	}
	if info.Size()%header.SectorSize != 0 {
		return fmt.Errorf("build: source %q size %d is not a multiple of the %d-byte sector size",
			c.Source, info.Size(), header.SectorSize)
	}
	return nil
}

// OutputFileName is the emitted image's filename: citadel-<image-type>-
// <channel>-<version>.img (spec §4.9).
func (c *Config) OutputFileName() string {
	return fmt.Sprintf("citadel-%s-%s-%d.img", c.ImageType, c.Channel, c.Version)
}
