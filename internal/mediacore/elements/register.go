package elements

import (
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// RegisterAll adds every built-in element template to the pool under its
// canonical name.
func RegisterAll(pool *mediacore.Pool) error {
	templates := map[string]mediacore.Factory{
		"gain":        NewGain,
		"passthrough": NewPassthrough,
		"copier":      NewCopier,
		"mixer":       NewMixer,
	}
	for name, factory := range templates {
		if err := pool.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}
