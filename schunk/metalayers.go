package schunk

import (
	"bytes"
	"fmt"
)

func cloneMetalayers(ms []Metalayer) []Metalayer {
	if ms == nil {
		return nil
	}
	out := make([]Metalayer, len(ms))
	for i, m := range ms {
		out[i] = Metalayer{Name: m.Name, Content: bytes.Clone(m.Content)}
	}
	return out
}

func findMetalayer(ms []Metalayer, name string) int {
	for i, m := range ms {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// AddMetalayer attaches a new fixed metalayer.
func (s *SChunk) AddMetalayer(name string, content []byte) error {
	if name == "" {
		return fmt.Errorf("%w: empty metalayer name", ErrInvalidParams)
	}
	if findMetalayer(s.metalayers, name) >= 0 {
		return fmt.Errorf("%w: %q", ErrMetalayerExists, name)
	}
	if len(s.metalayers) >= MaxMetalayers {
		return fmt.Errorf("%w: limit is %d", ErrTooManyMetalayers, MaxMetalayers)
	}
	s.metalayers = append(s.metalayers, Metalayer{Name: name, Content: bytes.Clone(content)})
	return nil
}

// UpdateMetalayer replaces the content of an existing metalayer.
func (s *SChunk) UpdateMetalayer(name string, content []byte) error {
	i := findMetalayer(s.metalayers, name)
	if i < 0 {
		return fmt.Errorf("%w: metalayer %q", ErrNotFound, name)
	}
	s.metalayers[i].Content = bytes.Clone(content)
	return nil
}

// Metalayer returns a copy of the content of the named metalayer.
func (s *SChunk) Metalayer(name string) ([]byte, error) {
	i := findMetalayer(s.metalayers, name)
	if i < 0 {
		return nil, fmt.Errorf("%w: metalayer %q", ErrNotFound, name)
	}
	return bytes.Clone(s.metalayers[i].Content), nil
}

// HasMetalayer reports whether the named metalayer exists.
func (s *SChunk) HasMetalayer(name string) bool {
	return findMetalayer(s.metalayers, name) >= 0
}

// MetalayerNames returns metalayer names in insertion order.
func (s *SChunk) MetalayerNames() []string {
	names := make([]string, len(s.metalayers))
	for i, m := range s.metalayers {
		names[i] = m.Name
	}
	return names
}

// SetVLMetalayer adds or replaces a variable-length metalayer. These are not
// bounded by MaxMetalayers.
func (s *SChunk) SetVLMetalayer(name string, content []byte) error {
	if name == "" {
		return fmt.Errorf("%w: empty metalayer name", ErrInvalidParams)
	}
	if i := findMetalayer(s.vlmetalayers, name); i >= 0 {
		s.vlmetalayers[i].Content = bytes.Clone(content)
		return nil
	}
	s.vlmetalayers = append(s.vlmetalayers, Metalayer{Name: name, Content: bytes.Clone(content)})
	return nil
}

// VLMetalayer returns a copy of the named variable-length metalayer.
func (s *SChunk) VLMetalayer(name string) ([]byte, error) {
	i := findMetalayer(s.vlmetalayers, name)
	if i < 0 {
		return nil, fmt.Errorf("%w: vlmetalayer %q", ErrNotFound, name)
	}
	return bytes.Clone(s.vlmetalayers[i].Content), nil
}
