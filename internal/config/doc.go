// Package config defines configuration structures for the farmrun CLI.
//
// Configuration is layered, later sources winning:
//   - Defaults (Default)
//   - YAML configuration file (LoadFromFile)
//   - Environment variables (FARMRUN_ prefix, LoadFromEnv)
//   - Command-line flags (Merge)
//
// # Example
//
//	project_arn: arn:aws:devicefarm:us-west-2:123456789012:project:abc
//	device_pools:
//	  single: arn:aws:devicefarm:us-west-2:123456789012:devicepool:abc/1
//	  small: arn:aws:devicefarm:us-west-2:123456789012:devicepool:abc/2
//	artifacts:
//	  app: app/build/outputs/apk/debug/app-debug.apk
//	  tests: bench/build/outputs/apk/androidTest/debug/bench-debug-androidTest.apk
//	run:
//	  poll_interval: 10s
//	  max_poll_interval: 1m
//	  max_wait: 12h
//	archive:
//	  bucket: s3://benchmarks?region=us-west-2
package config
