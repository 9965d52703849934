// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package adapters runs tasks against the remote embedding and crawler
// services.
//
// Each adapter performs one attempt in three phases: make sure a remote job
// exists (submitting one only when needed), poll it with growing intervals,
// and map the final remote state to a tasks.Outcome. Remote "failed" states
// produce terminal outcomes; a job that drops back to an earlier state is
// reported as interrupted and may be retried.
//
// # Key Types
//
//   - Adapter: Execute and Check for one task type
//   - Controller: Cancel, pause and resume remote jobs (crawls)
//   - Registry: Maps task types to adapters
//   - Reporter: Receives progress and job identifiers from an execution
package adapters
