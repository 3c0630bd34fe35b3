// Package types defines shared types used across the taskmesh coordination
// engine: the structured Error type and its error codes.
package types
