package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// FreeModelID is the model every user owns without a purchase.
const FreeModelID = "tinyllama:latest"

const defaultPrice = 0.99

// Model is one purchasable unit. A nil Price marks the model as free.
type Model struct {
	ID    string   `json:"id"`
	Price *float64 `json:"price"`
}

// IsFree reports whether the model costs nothing.
func (m Model) IsFree() bool {
	return m.Price == nil
}

// Cents returns the price in the smallest currency unit used by checkout.
func (m Model) Cents() int64 {
	if m.Price == nil {
		return 0
	}
	return int64(*m.Price*100 + 0.5)
}

// Catalog is the ordered list of models offered by the backend plus the
// routing table used by the chat proxy.
type Catalog struct {
	freeModelID string
	models      []Model
	index       map[string]int
	aliases     map[string]string
}

func price(p float64) *float64 {
	return &p
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, _ := New(FreeModelID, []Model{
		{ID: FreeModelID, Price: nil},
		{ID: "llama3.2:3b", Price: price(defaultPrice)},
		{ID: "gemma2:2b", Price: price(defaultPrice)},
		{ID: "phi3.5:mini", Price: price(defaultPrice)},
		{ID: "qwen2.5:7b", Price: price(defaultPrice)},
		{ID: "mistral:7b-instruct-v0.3", Price: price(defaultPrice)},
	})
	// Cloud model names have no local weights; they are answered by the free model.
	for _, cloud := range []string{"llama3.3:70b", "qwen2.5:72b", "deepseek:v3", "gpt-4o-mini", "claude-3.5-sonnet", "mistral-large"} {
		c.aliases[cloud] = FreeModelID
	}
	return c
}

// New builds a catalog. freeModelID must be present and priced nil.
func New(freeModelID string, models []Model) (*Catalog, error) {
	c := &Catalog{
		freeModelID: strings.TrimSpace(freeModelID),
		index:       make(map[string]int, len(models)),
		aliases:     map[string]string{},
	}
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, errors.New("catalog model id is required")
		}
		if _, dup := c.index[id]; dup {
			return nil, fmt.Errorf("duplicate catalog model %q", id)
		}
		if m.Price != nil && *m.Price < 0 {
			return nil, fmt.Errorf("negative price for catalog model %q", id)
		}
		m.ID = id
		c.index[id] = len(c.models)
		c.models = append(c.models, m)
	}
	free, ok := c.Lookup(c.freeModelID)
	if !ok {
		return nil, fmt.Errorf("free model %q is not in the catalog", c.freeModelID)
	}
	if !free.IsFree() {
		return nil, fmt.Errorf("free model %q must not have a price", c.freeModelID)
	}
	return c, nil
}

type fileFormat struct {
	FreeModel string            `json:"free_model"`
	Models    []Model           `json:"models"`
	Aliases   map[string]string `json:"aliases"`
}

// LoadFile reads a JSON catalog:
//
//	{"free_model": "tinyllama:latest",
//	 "models": [{"id": "tinyllama:latest", "price": null}, {"id": "gemma2:2b", "price": 0.99}],
//	 "aliases": {"gpt-4o-mini": "tinyllama:latest"}}
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if f.FreeModel == "" {
		f.FreeModel = FreeModelID
	}
	c, err := New(f.FreeModel, f.Models)
	if err != nil {
		return nil, err
	}
	for alias, target := range f.Aliases {
		if _, ok := c.index[target]; !ok {
			return nil, fmt.Errorf("alias %q targets unknown model %q", alias, target)
		}
		c.aliases[alias] = target
	}
	return c, nil
}

// FreeModelID returns the designated always-free model.
func (c *Catalog) FreeModelID() string {
	return c.freeModelID
}

// Lookup returns the catalog entry for id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	i, ok := c.index[id]
	if !ok {
		return Model{}, false
	}
	return c.models[i], true
}

// Models returns all offered models in catalog order.
func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// IDs returns every model id in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.ID)
	}
	return out
}

// FreeIDs returns the ids of all unpriced models in catalog order.
func (c *Catalog) FreeIDs() []string {
	var out []string
	for _, m := range c.models {
		if m.IsFree() {
			out = append(out, m.ID)
		}
	}
	return out
}

// BackendModel maps a requested model name to the model the server runs.
// Unknown names fall back to the free model.
func (c *Catalog) BackendModel(requested string) string {
	if _, ok := c.index[requested]; ok {
		return requested
	}
	if target, ok := c.aliases[requested]; ok {
		return target
	}
	return c.freeModelID
}
