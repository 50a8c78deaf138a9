// Package util provides the module registry and logging helpers shared by
// the go-meter packages.
package util

import (
	"fmt"
	"sort"
)

// Module interface.
// Modules need at least an ID() function returning a suitable string
// representation and an Init() function, which is called after all the
// arguments were successfully parsed and all the modules created.
type Module interface {
	ID() string
	Init() error
}

// ModuleCreator is a function which creates a module from a list of string
// options. It returns the unconsumed options and the created Module.
type ModuleCreator func(args []string) ([]string, Module, error)

// ModuleHelp is provided the name of the module and must produce a help
// description on stderr.
type ModuleHelp func(string)

// ModuleDescription contains name and description of a module
type ModuleDescription struct {
	name, desc string
}

// Name returns the name of this module
func (m ModuleDescription) Name() string {
	return m.name
}

// Description returns the description of this module
func (m ModuleDescription) Description() string {
	return m.desc
}

type moduleDefinition struct {
	ModuleDescription
	new  ModuleCreator
	help ModuleHelp
}

var modules = make(map[string]map[string]moduleDefinition)

// RegisterModule registers a module with given type, name, description,
// module creator, and help function. Existing modules are overwritten.
func RegisterModule(typ, name, desc string, new ModuleCreator, help ModuleHelp) {
	submodule, found := modules[typ]
	if !found {
		modules[typ] = make(map[string]moduleDefinition)
		submodule = modules[typ]
	}
	submodule[name] = moduleDefinition{
		ModuleDescription: ModuleDescription{
			name: name,
			desc: desc,
		},
		new:  new,
		help: help,
	}
}

// CreateModule instantiates the module identified by typ, name with the
// given options.
func CreateModule(typ, name string, args []string) ([]string, Module, error) {
	submodules, ok := modules[typ]
	if !ok {
		return args, nil, fmt.Errorf("unknown module type %s", typ)
	}
	module, ok := submodules[name]
	if !ok {
		return args, nil, fmt.Errorf("couldn't find module of type %s with name %s", typ, name)
	}
	return module.new(args)
}

// GetModuleHelp calls the help function of the module identified by typ, name
func GetModuleHelp(typ, name string) error {
	if submodules, ok := modules[typ]; ok {
		if module, ok := submodules[name]; ok {
			module.help(name)
			return nil
		}
	}
	return fmt.Errorf("couldn't find module of type %s with name %s", typ, name)
}

// GetModules returns the descriptions of the registered modules ordered by name
func GetModules(typ string) (descriptions []ModuleDescription, err error) {
	submodules, ok := modules[typ]
	if !ok {
		return nil, fmt.Errorf("unknown module type %s", typ)
	}
	for _, module := range submodules {
		descriptions = append(descriptions, module.ModuleDescription)
	}
	sort.Slice(descriptions, func(i, j int) bool {
		return descriptions[i].name < descriptions[j].name
	})
	return descriptions, nil
}

// ModuleTypes returns the registered module types ordered by name
func ModuleTypes() (types []string) {
	for typ := range modules {
		types = append(types, typ)
	}
	sort.Strings(types)
	return
}
