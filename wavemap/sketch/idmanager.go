// Copyright © 2024-2025 the wavemap authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package sketch

// SeqIDManager assigns dense sequence ids in insertion order and maps
// between names and ids. Ids equal the index into the metadata list.
type SeqIDManager struct {
	names []string
	ids   map[string]uint32
}

// NewSeqIDManager returns an empty manager.
func NewSeqIDManager() *SeqIDManager {
	return &SeqIDManager{
		names: make([]string, 0, 128),
		ids:   make(map[string]uint32, 128),
	}
}

// AddSequence registers a name and returns its id. Registering an existing
// name returns the previously assigned id.
func (m *SeqIDManager) AddSequence(name string) uint32 {
	if id, ok := m.ids[name]; ok {
		return id
	}
	id := uint32(len(m.names))
	m.names = append(m.names, name)
	m.ids[name] = id
	return id
}

// SequenceID returns the id of a name.
func (m *SeqIDManager) SequenceID(name string) (uint32, bool) {
	id, ok := m.ids[name]
	return id, ok
}

// SequenceName returns the name of an id, or "" for unknown ids.
func (m *SeqIDManager) SequenceName(id uint32) string {
	if int(id) >= len(m.names) {
		return ""
	}
	return m.names[id]
}

// Size returns the number of registered sequences.
func (m *SeqIDManager) Size() int {
	return len(m.names)
}
