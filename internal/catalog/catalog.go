// Package catalog содержит серверный справочник цен наборов и стоимости доставки.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

//go:embed bundles.yaml
var defaultCatalog []byte

// ErrNotFound возвращается, если позиция каталога не существует.
var ErrNotFound = errors.New("catalog entry not found")

type file struct {
	Bundles []model.CatalogEntry `yaml:"bundles"`
}

// Catalog хранит неизменяемый набор цен, загруженный при старте.
type Catalog struct {
	entries map[string]model.CatalogEntry
}

// New создаёт каталог из списка позиций.
func New(entries []model.CatalogEntry) (*Catalog, error) {
	m := make(map[string]model.CatalogEntry, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return nil, errors.New("catalog entry without id")
		}
		if e.Price < 0 || e.ShippingFee < 0 {
			return nil, fmt.Errorf("catalog entry %s: negative price", e.ID)
		}
		if _, dup := m[e.ID]; dup {
			return nil, fmt.Errorf("catalog entry %s: duplicate id", e.ID)
		}
		m[e.ID] = e
	}
	return &Catalog{entries: m}, nil
}

// Parse разбирает каталог в формате YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Bundles)
}

// Load читает каталог из файла. Пустой путь означает встроенный каталог.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Lookup возвращает цену и стоимость доставки позиции каталога.
func (c *Catalog) Lookup(ref string) (model.CatalogEntry, error) {
	e, ok := c.entries[ref]
	if !ok {
		return model.CatalogEntry{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return e, nil
}

// Len возвращает количество позиций.
func (c *Catalog) Len() int {
	return len(c.entries)
}
