package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-reads the config file whenever it changes on disk and hands the
// decoded result to onChange. Invalid edits are logged and ignored so the
// running process keeps its last good configuration.
func Watch(configPath, dataDir string, logger *zap.Logger, onChange func(*Config)) error {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		logger.Debug("No config file to watch")
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}
