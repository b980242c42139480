package tools

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Catalog is the TOML tool catalog overlaid on the builtin registry.
// Override entries adjust metadata on registered tools, disabled
// entries turn tools off, and mcp_servers declare external MCP servers
// whose tools are proxied into the registry at startup.
type Catalog struct {
	Disabled []string       `toml:"disabled"`
	Tools    []CatalogTool  `toml:"tools"`
	Servers  []MCPServerDef `toml:"mcp_servers"`
}

// CatalogTool overrides metadata of a registered tool. The handler is
// always kept; only description, compensation, and required fields can
// be adjusted from the catalog.
type CatalogTool struct {
	Name         string   `toml:"name"`
	Description  string   `toml:"description"`
	Compensation string   `toml:"compensation"`
	Required     []string `toml:"required"`
}

// MCPServerDef declares an external MCP server to proxy tools from.
// Connections are established at startup, not on catalog reload.
type MCPServerDef struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Env     []string `toml:"env"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("decoding tool catalog %s: %w", path, err)
	}
	return &c, nil
}

// Apply overlays override and disabled entries onto the registry.
func (c *Catalog) Apply(reg *Registry) error {
	for _, t := range c.Tools {
		def, ok := reg.Get(t.Name)
		if !ok {
			return fmt.Errorf("catalog tool %q is not registered", t.Name)
		}
		if t.Description != "" {
			def.Description = t.Description
		}
		if t.Compensation != "" {
			def.Compensation = t.Compensation
		}
		if len(t.Required) > 0 {
			def.Required = t.Required
		}
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("applying catalog tool %q: %w", t.Name, err)
		}
	}
	reg.SetDisabled(c.Disabled)
	return nil
}
