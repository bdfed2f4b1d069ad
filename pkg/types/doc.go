/*
Package types provides the core interfaces and data structures shared by clouddrive components.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│               HTTP API (pkg/api)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Resource engine (internal/resource)       │
	│   Move validation (internal/validation)     │
	└─────────────────────────────────────────────┘
	          │                     │
	┌─────────┴──────────┐ ┌────────┴────────┐
	│ Directory engine   │ │  Path locks     │
	│ (internal/directory)│ │ (internal/lock) │
	└────────────────────┘ └─────────────────┘
	          │
	┌─────────┴───────────────────────────────────┐
	│  ObjectStore (internal/storage/s3, memory)  │
	└─────────────────────────────────────────────┘

# Core Interfaces

ObjectStore:
Put, get, stat, prefix-list, copy and remove on opaque keys. Stat reports absence as
(nil, nil) so callers can tell "not found" from a storage malfunction.

PathLocker:
Advisory locks keyed by tenant path, held around check-then-act sequences.

MetricsCollector:
Operation and error recording for Prometheus integration.

# Data Structures

Resource:
File or folder descriptor, always rebuilt from a live listing or stat call.

ListingEntry:
A (key, size) pair produced by a prefix listing.

UploadFile:
One entry of a multi-file upload batch.
*/
package types
