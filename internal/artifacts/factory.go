// factory.go implements the archive backend registry and factory, mapping backend type
// strings (local, s3, azure, gcs) to constructor functions and dispatching New calls.
package artifacts

import (
	"fmt"

	"github.com/devflowfix/devflowfix/internal/config"
)

// Factory function type for creating archive backends
type FactoryFunc func(*config.Config) (Store, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates the archive backend selected by configuration
func New(cfg *config.Config) (Store, error) {
	factory, ok := factories[cfg.Artifacts.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported artifacts backend: %s (must be 'local', 'azure', 's3', or 'gcs')", cfg.Artifacts.Backend)
	}

	return factory(cfg)
}
