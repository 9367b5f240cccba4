package version

// Version is written into every vault envelope as config_version.
var Version = "1.4.0"
