package source

import (
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileProvider reads and persists sources in a JSON file:
//
//	{
//	  "activeSource": "halyard.org",
//	  "sources": [
//	    {"name": "halyard.org", "url": "https://feed.example/v3", "enabled": true},
//	    {"name": "local", "url": "file:///var/feeds/local", "enabled": false}
//	  ]
//	}
//
// A missing file behaves as an empty configuration.
type FileProvider struct {
	mu   sync.Mutex
	path string
}

// NewFileProvider creates a provider backed by the file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the backing file path.
func (p *FileProvider) Path() string {
	return p.path
}

// Sources returns all configured sources in file order.
func (p *FileProvider) Sources() ([]Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return nil, err
	}

	var out []Source
	for _, s := range gjson.GetBytes(data, "sources").Array() {
		out = append(out, Source{
			Name:    s.Get("name").String(),
			URL:     s.Get("url").String(),
			Enabled: s.Get("enabled").Bool(),
		})
	}
	return out, nil
}

// ActiveSource returns the persisted active source name.
func (p *FileProvider) ActiveSource() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(data, "activeSource").String(), nil
}

// SaveActiveSource persists the chosen active source.
func (p *FileProvider) SaveActiveSource(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return err
	}
	out, err := sjson.SetBytes(data, "activeSource", name)
	if err != nil {
		return fmt.Errorf("encode active source: %w", err)
	}
	return p.write(out)
}

// AddSource appends a source to the configured list.
func (p *FileProvider) AddSource(s Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return err
	}
	out, err := sjson.SetBytes(data, "sources.-1", map[string]any{
		"name":    s.Name,
		"url":     s.URL,
		"enabled": s.Enabled,
	})
	if err != nil {
		return fmt.Errorf("encode source: %w", err)
	}
	return p.write(out)
}

// RemoveSource drops the named source from the configured list.
func (p *FileProvider) RemoveSource(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return err
	}
	idx := -1
	for i, s := range gjson.GetBytes(data, "sources").Array() {
		if s.Get("name").String() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%q: %w", name, ErrUnknownSource)
	}
	out, err := sjson.DeleteBytes(data, fmt.Sprintf("sources.%d", idx))
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return p.write(out)
}

// SetEnabled flips the enabled flag of the named source.
func (p *FileProvider) SetEnabled(name string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.read()
	if err != nil {
		return err
	}
	idx := -1
	for i, s := range gjson.GetBytes(data, "sources").Array() {
		if s.Get("name").String() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%q: %w", name, ErrUnknownSource)
	}
	out, err := sjson.SetBytes(data, fmt.Sprintf("sources.%d.enabled", idx), enabled)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return p.write(out)
}

// read returns the file contents, or nil when the file does not exist.
// Must be called with mu held.
func (p *FileProvider) read() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return data, nil
}

// write stores the file contents. Must be called with mu held.
func (p *FileProvider) write(data []byte) error {
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write sources file: %w", err)
	}
	return nil
}

// Ensure FileProvider implements Provider.
var _ Provider = (*FileProvider)(nil)
