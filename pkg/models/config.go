package models

// Config lists where source, cube and graph definitions live
type Config struct {
	Sources PathsConfig `yaml:"sources"`
	Cubes   PathsConfig `yaml:"cubes"`
	Graphs  PathsConfig `yaml:"graphs"`
}

// PathsConfig contains multiple paths for a model type
type PathsConfig struct {
	Paths []string `yaml:"paths"`
}

// Validate validates and sets defaults for the configuration
func (c *Config) Validate() error {
	c.SetDefaults()

	return nil
}

// SetDefaults sets default paths for every model type without one
func (c *Config) SetDefaults() {
	if len(c.Sources.Paths) == 0 {
		c.Sources.Paths = []string{"models/sources"}
	}

	if len(c.Cubes.Paths) == 0 {
		c.Cubes.Paths = []string{"models/cubes"}
	}

	if len(c.Graphs.Paths) == 0 {
		c.Graphs.Paths = []string{"models/graphs"}
	}
}
