// SPDX-License-Identifier: MPL-2.0

// Package config loads realmbridge settings using Viper with CUE as the file format.
//
// The file lives at <user config dir>/realmbridge/config.cue, or config.cue
// in the working directory, and is validated against the embedded
// config_schema.cue before it is merged over the defaults. Every key can also
// be set through a REALMBRIDGE_ environment variable.
package config
