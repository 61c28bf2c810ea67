// Package config provides configuration management for the dive service.
//
// # Configuration Sources
//
// Configuration is built from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. The YAML file named by DIVE_CONFIG_FILE, dive.yaml by default
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// Environment variables are prefixed with DIVE and named after the section:
//
//	DIVE_SERVER_PORT=8080
//	DIVE_REMOTE_BASE_URL=http://deepblue.mpi-inf.mpg.de/api
//	DIVE_REMOTE_POLL_INTERVAL=250ms
//	DIVE_CACHE_MAX_ENTRIES=10000
//	DIVE_LIFECYCLE_CANCEL_ON=navigation_end
//	DIVE_LOGGING_LEVEL=debug
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Tests use config.Default(), which needs no environment or files.
package config
