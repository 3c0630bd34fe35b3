// Package config loads taskmesh configuration with the precedence
// defaults, then YAML file, then environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskmesh.yaml").
//	    WithEnvPrefix("TASKMESH").
//	    Load()
package config
