// Package scrape defines the core types and collaborator interfaces shared by the
// scheduler, discovery engine, extraction orchestrator and storage adapters.
package scrape
