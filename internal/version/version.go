package version

// Version is the current version of oradrift.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

// Name is the application name.
const Name = "oradrift"

// Description is a short description of the application.
const Description = "Oracle and SQL Server to PostgreSQL migration engine"
