// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the conversation log.
//
// This package defines the core domain types used throughout the application
// for representing conversation turns and their lifecycle.
//
// # Key Types
//
//   - Message: a single conversational turn with role, content and status
//   - Status: per-message state machine (pending, streaming, complete,
//     errored, cancelled)
//   - Log: the ordered, append-only message sequence
//
// # Usage
//
// Create a log and append a turn:
//
//	log := model.NewLog()
//	log.Append(model.NewUserMessage("Hello!"))
//	asst := model.NewAssistantPlaceholder()
//	log.Append(asst)
//	asst.AppendDelta("Hi ")
//	asst.AppendDelta("there")
//	asst.Finalize(model.StatusComplete)
//
// The Log is owned by a single writer (the conversation engine); readers get
// value-copy snapshots via Snapshot and never see the builder internals.
package model
