package tabular

import "io"

// MemorySource serves rows held in memory.
type MemorySource struct {
	name   string
	header []string
	rows   [][]string
	pos    int
	size   int64
}

// NewMemory returns a Source over header and rows. Size reports size.
func NewMemory(name string, header []string, rows [][]string, size int64) *MemorySource {
	return &MemorySource{name: name, header: header, rows: rows, size: size}
}

func (m *MemorySource) Name() string     { return m.name }
func (m *MemorySource) Header() []string { return m.header }
func (m *MemorySource) Size() int64      { return m.size }
func (m *MemorySource) Close() error     { return nil }

func (m *MemorySource) Next() ([]string, error) {
	if m.pos >= len(m.rows) {
		return nil, io.EOF
	}
	row := m.rows[m.pos]
	m.pos++
	return row, nil
}
