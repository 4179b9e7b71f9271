// Package config handles loading and validating the MQTT console configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MQTTCONSOLE_* environment variables
//   - Validation of every section, reporting all problems at once
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords are never stored in the config; the console prompts for them
//   - Tokens (InfluxDB) should be set via environment variables
//   - The observer API binds to 127.0.0.1 by default
//
// Usage:
//
//	path, explicit := config.ResolvePath(flagValue)
//	cfg, err := config.Load(path, !explicit)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.Host)
package config
