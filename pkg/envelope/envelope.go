// Package envelope defines the objects that cross the storage boundary:
// the encrypted envelope stored verbatim in the content-addressed network
// and the artifact a data owner keeps to ever retrieve it again.
package envelope

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

// ContentType tags uploaded envelopes so the storage network can index them.
const ContentType = "application/json"

const (
	envelopeSchemaURL = "https://ouroboros-vault/schemas/envelope.json"
	artifactSchemaURL = "https://ouroboros-vault/schemas/artifact.json"
)

var (
	//go:embed envelope.schema.json
	envelopeSchemaJSON string
	//go:embed artifact.schema.json
	artifactSchemaJSON string

	schemaOnce     sync.Once
	envelopeSchema *jsonschema.Schema
	artifactSchema *jsonschema.Schema
	schemaErr      error
)

var ErrIncomplete = errors.New("envelope: incomplete artifact")

// Envelope is the exact object serialized to the storage network. It is
// immutable once stored.
type Envelope struct { // A
	CipherText              string          `json:"cipherText"`
	DataToEncryptHash       string          `json:"dataToEncryptHash"`
	AccessControlConditions []acc.Condition `json:"accessControlConditions"`
}

// Artifact is the only durable reference to stored data. Anyone holding
// it can attempt retrieval, so it must be treated as sensitive.
type Artifact struct { // A
	IrysTxID                string          `json:"irysTxId"`
	AccessControlConditions []acc.Condition `json:"accessControlConditions"`
	DataToEncryptHash       string          `json:"dataToEncryptHash"`
}

// Validate reports whether the artifact can address stored data. Losing
// any one of the three fields makes the data unrecoverable.
func (a Artifact) Validate() error { // A
	if a.IrysTxID == "" {
		return fmt.Errorf("%w: missing irysTxId", ErrIncomplete)
	}
	if a.DataToEncryptHash == "" {
		return fmt.Errorf("%w: missing dataToEncryptHash", ErrIncomplete)
	}
	return acc.ValidateAll(a.AccessControlConditions)
}

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if schemaErr = c.AddResource(envelopeSchemaURL, bytes.NewReader([]byte(envelopeSchemaJSON))); schemaErr != nil {
		return
	}
	if schemaErr = c.AddResource(artifactSchemaURL, bytes.NewReader([]byte(artifactSchemaJSON))); schemaErr != nil {
		return
	}
	if envelopeSchema, schemaErr = c.Compile(envelopeSchemaURL); schemaErr != nil {
		return
	}
	artifactSchema, schemaErr = c.Compile(artifactSchemaURL)
}

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(compileSchemas)
	return envelopeSchema, artifactSchema, schemaErr
}

// Marshal returns the canonical compact JSON form (RFC 8785) of e.
func (e Envelope) Marshal() ([]byte, error) { // A
	return canonical(e)
}

// Unmarshal validates data against the envelope schema and decodes it.
// Every failure is vaulterr.MalformedEnvelope.
func Unmarshal(data []byte) (Envelope, error) { // A
	const op = "envelope.unmarshal"
	var env Envelope

	sch, _, err := schemas()
	if err != nil {
		return env, vaulterr.New(vaulterr.MalformedEnvelope, op, fmt.Errorf("schema: %w", err))
	}
	if err := validate(sch, data); err != nil {
		return env, vaulterr.New(vaulterr.MalformedEnvelope, op, err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, vaulterr.New(vaulterr.MalformedEnvelope, op, err)
	}
	return env, nil
}

// MarshalArtifact returns the canonical compact JSON form of a.
func MarshalArtifact(a Artifact) ([]byte, error) { // A
	return canonical(a)
}

// UnmarshalArtifact validates and decodes a previously saved artifact.
func UnmarshalArtifact(data []byte) (Artifact, error) { // A
	const op = "envelope.unmarshalArtifact"
	var a Artifact

	_, sch, err := schemas()
	if err != nil {
		return a, vaulterr.New(vaulterr.MalformedEnvelope, op, fmt.Errorf("schema: %w", err))
	}
	if err := validate(sch, data); err != nil {
		return a, vaulterr.New(vaulterr.MalformedEnvelope, op, err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, vaulterr.New(vaulterr.MalformedEnvelope, op, err)
	}
	return a, nil
}

func validate(sch *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return errors.New("trailing data after JSON document")
	}
	return sch.Validate(doc)
}

func canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}
