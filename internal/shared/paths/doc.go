// Package paths lays out the server's workspace on disk.
//
//	<root>/sessions/<session_id>   working directory of both terminals and the assistant
//	<root>/profiles                assistant profiles (yaml or toml)
package paths
