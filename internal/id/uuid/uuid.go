// Package uuid generates job identifiers.
package uuid

import guuid "github.com/google/uuid"

// Generator produces random UUIDv4 strings.
type Generator struct{}

func New() Generator { return Generator{} }

func (Generator) NewID() (string, error) {
	id, err := guuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
