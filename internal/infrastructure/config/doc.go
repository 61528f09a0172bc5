// Package config handles loading and validating XR Monitor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (XR18_IP, XR18_PORT, XRMONITOR_*)
//   - Validation of required fields and mixer timing bounds
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (JWT secret, admin password, tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Mixer.Host)
package config
