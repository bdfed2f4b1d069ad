/*
Package s3 implements the clouddrive object store on AWS S3 and S3 compatible services
such as MinIO.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│         types.ObjectStore interface         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 Backend                     │
	│   error translation │ request stats │ slog  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        API (aws-sdk-go-v2 s3.Client)        │
	└─────────────────────────────────────────────┘

# Listing Semantics

List issues ListObjectsV2 through the SDK paginator. A non-recursive listing sets the "/"
delimiter, so the result holds the objects directly under the prefix plus one zero-size
entry per immediate sub-prefix ("docs/"). A recursive listing returns every key under the
prefix. In both cases a key equal to the prefix itself, such as a folder marker, is part of
the result; filtering it is left to the caller.

# Absence

Stat returns (nil, nil) for a missing key. HeadObject answers 404 without a body, so both the
typed NotFound error and smithy API error codes are inspected. Every other failure is
returned as a STORAGE_OPERATION_FAILED error carrying the bucket and key.

# Configuration

	backend, err := s3.NewBackend(ctx, "user-files", &s3.Config{
		Region:          "us-east-1",
		Endpoint:        "http://minio:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		ForcePathStyle:  true,
	}, s3.WithLogger(logger), s3.WithMetrics(collector))

Retries are delegated to the SDK retryer (MaxRetries). RequestTimeout bounds every call except
Get, whose body is streamed by the caller.
*/
package s3
