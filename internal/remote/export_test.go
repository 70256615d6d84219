package remote

// Test servers shared with the external test package.
var (
	NewDAVServer  = newDAVServer
	NewTestWebDAV = newTestWebDAV
	NewFakeDrive  = newFakeDrive
	NewTestDrive  = newTestDrive
)
