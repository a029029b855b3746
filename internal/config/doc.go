// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatstream.
//
// Configuration comes from three layers, lowest precedence first: built-in
// defaults, the TOML file at ~/.chatstream/config.toml, and CHATSTREAM_*
// environment variables. A file watcher can reload the file while the
// program runs and notify registered listeners.
package config
