// Package schema embeds the JSON Schemas that gate every configuration
// document the bridge reads before it is decoded.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// Kind identifies one of the embedded schemas.
type Kind int

const (
	Config Kind = iota + 1
	AnchorMap
	DevEuiMap
)

//go:embed schemas/*
var schemaFiles embed.FS

func Load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = Load
}

// Validate decodes r as JSON and checks it against the schema for k.
func Validate(k Kind, r io.Reader) (err error) {
	var s *jsonschema.Schema

	switch k {
	case Config:
		s, err = jsonschema.Compile("embedFS://schemas/config.schema.json")
	case AnchorMap:
		s, err = jsonschema.Compile("embedFS://schemas/anchor-map.schema.json")
	case DevEuiMap:
		s, err = jsonschema.Compile("embedFS://schemas/dev-eui-map.schema.json")
	default:
		return fmt.Errorf("schema.Validate: unknown schema kind %d", k)
	}
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		log.Errorf("schema.Validate() - failed to decode document: %v", err)
		return err
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema.Validate: %w", err)
	}
	return nil
}
