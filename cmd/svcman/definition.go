package main

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	servicemanager "github.com/qharbor/service-manager"
	"github.com/qharbor/service-manager/appdir"
)

// definition is the on-disk TOML description of one service.
type definition struct {
	Name             string   `toml:"name"`
	AppDir           string   `toml:"app_dir"`
	ProgramArguments []string `toml:"program_arguments"`
	Version          string   `toml:"version"`
}

// loadDefinition reads a TOML service definition and turns it into a
// validated ServiceConfig. A missing app_dir defaults to a per-service
// directory under the qharbor data root.
func loadDefinition(path string) (servicemanager.ServiceConfig, error) {
	if path == "" {
		return servicemanager.ServiceConfig{}, errors.New("missing -def: path to the service definition")
	}
	var def definition
	if _, err := toml.DecodeFile(path, &def); err != nil {
		return servicemanager.ServiceConfig{}, fmt.Errorf("load definition %s: %w", path, err)
	}
	if def.Name == "" {
		return servicemanager.ServiceConfig{}, fmt.Errorf("definition %s: missing name", path)
	}

	appDir := def.AppDir
	if appDir == "" {
		dir, err := appdir.ServiceDir(def.Name)
		if err != nil {
			return servicemanager.ServiceConfig{}, err
		}
		appDir = dir
	}

	var version servicemanager.Version
	if def.Version != "" {
		v, err := servicemanager.ParseVersion(def.Version)
		if err != nil {
			return servicemanager.ServiceConfig{}, fmt.Errorf("definition %s: %w", path, err)
		}
		version = v
	}

	return servicemanager.NewConfig(def.Name, appDir, def.ProgramArguments, version)
}
