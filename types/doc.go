// Copyright (c) CaseFlow Authors.
// Licensed under the MIT License.

// Package types defines the shared data types and error taxonomy used
// across the CaseFlow orchestrator: task identities, task results and
// execution contexts, collaborator interfaces, and structured errors.
//
// The package has no dependencies on other caseflow packages and can be
// imported by agent implementations without pulling in the orchestrator.
package types
