package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig loads the configuration at configPath and re-invokes onChange
// with a freshly decoded Config whenever the file is written. A reload that
// fails to decode or validate is passed to onError and the previous
// configuration stays in effect.
func WatchConfig(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config watch requires an explicit config path")
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()

	return cfg, nil
}
