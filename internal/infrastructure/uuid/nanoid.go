package uuid

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"
)

// SessionAlphabet url safe characters without look-alikes, ids end up in
// paths and websocket urls
const SessionAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Generator id generator interface
type Generator interface {
	Generate() (string, error)
}

// NanoIDGenerator random ids drawn from Alphabet
type NanoIDGenerator struct {
	Length   int
	Alphabet string
}

var _ Generator = &NanoIDGenerator{}

// NewNanoIDGenerator create a session id generator
func NewNanoIDGenerator(length int) *NanoIDGenerator {
	if length < 1 {
		panic("length must be larger than 1")
	}
	return &NanoIDGenerator{Length: length, Alphabet: SessionAlphabet}
}

// Generate generate an id
func (ns *NanoIDGenerator) Generate() (string, error) {
	id, err := gonanoid.Generate(ns.Alphabet, ns.Length)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}
