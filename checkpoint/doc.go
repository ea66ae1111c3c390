// Copyright (c) CaseFlow Authors.
// Licensed under the MIT License.

// Package checkpoint provides durable, versioned snapshots of run state.
//
// A Store persists serialized snapshots; Memory, Redis and GORM backed
// implementations are interchangeable. The Manager layers versioning and
// parent chaining on top, and restores a run either completely or not at
// all, never partially.
package checkpoint
