// Package config loads registrykit configuration with Viper.
//
// Values come from a YAML file, an optional .env file and process
// environment variables, in increasing order of precedence. Environment
// variables use a prefix and a double underscore as the nesting separator:
//
//	REGISTRYKIT_DISCOVERY__QUERY_TIMEOUT=5s  ->  discovery.query_timeout
//
// # Usage
//
//	var cfg AppConfig
//	err := config.LoadConfig("orders", &cfg, config.WithConfigFile("config.yml"))
package config
