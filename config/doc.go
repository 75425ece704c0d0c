// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and SCRIPTBOX_* environment variables. It
// covers server transports, the script engine deployment constants (heap
// limits, worker pool size, timeouts), the fetch capability and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Engine backend: %s\n", cfg.Engine.Backend)
package config
