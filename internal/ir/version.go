package ir

// EngineVersion is the actorsync engine version reported by the CLI.
const EngineVersion = "0.1.0"
