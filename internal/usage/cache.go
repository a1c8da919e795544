package usage

import (
	"github.com/zsprackett/claude-usage/internal/jsonfile"
)

// Cache holds the last successfully normalized snapshot. The display surface
// reads the same file, so its field names are stable.
type Cache struct {
	path string
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

func (c *Cache) Path() string { return c.path }

// Write atomically replaces the cached snapshot.
func (c *Cache) Write(s Snapshot) error {
	return jsonfile.Write(c.path, s, 0644)
}

// Read returns the cached snapshot. found is false on first run.
func (c *Cache) Read() (s Snapshot, found bool, err error) {
	found, err = jsonfile.Read(c.path, &s)
	if err != nil || !found {
		return Snapshot{}, false, err
	}
	return s, true, nil
}
