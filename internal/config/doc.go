/*
Package config provides configuration management for clouddrive with multi-source support.

# Configuration Architecture

Sources in order of precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (CLOUDDRIVE_*)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Configuration Structure

Global Settings:
- Logging (level, format, optional file)

Storage:
- Backend selection (s3 or memory), bucket, tenant root prefix
- S3 endpoint, region, static credentials, path-style addressing, retries

Filesystem:
- Resource name limits for create/move and upload
- Download chunk size and recursive delete fan-out
- Whether a move may rename while changing folders

Locking:
- Local or Redis advisory locks, TTL and retry interval

Metrics and Server:
- Prometheus namespace, HTTP listen address, timeouts, upload memory limit

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("clouddrive.yaml"); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Example YAML:

	global:
	  log_level: INFO
	  log_format: json
	storage:
	  backend: s3
	  bucket: user-files
	  s3:
	    endpoint: http://minio:9000
	    access_key_id: minioadmin
	    secret_access_key: minioadmin
	    force_path_style: true
	locking:
	  backend: redis
	  redis_addr: redis:6379
*/
package config
