package types

// Version is the canonical project version.
// The CLI, the worker entrypoint and the wire protocol share this version;
// a bridge and a worker built from different versions must not be paired.
const Version = "0.3.0"
