// Copyright (C) 2017 ScyllaDB

package cfgutil

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/config"
)

// ParseYAML loads files in order and populates target, keys from later files
// override earlier ones. Missing files are skipped.
func ParseYAML(target interface{}, files ...string) error {
	var opts []config.YAMLOption
	for _, f := range files {
		ok, err := isFile(f)
		if err != nil {
			return errors.Wrapf(err, "stat %s", f)
		}
		if ok {
			opts = append(opts, config.File(f))
		}
	}

	cfg, err := config.NewYAML(opts...)
	if err != nil {
		return err
	}
	return cfg.Get(config.Root).Populate(target)
}

func isFile(name string) (bool, error) {
	info, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}
