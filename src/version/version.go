package version

// ProtocolVersion is the version tag embedded in every catch-up protocol
// message. Peers presenting a different ProtocolVersion are rejected before
// any payload is interpreted.
const ProtocolVersion uint8 = 1

// Flag contains extra info about the version. It is helpful for tracking
// versions while developing. It should always be empty on the master branch.
const Flag = ""

var (
	// Version is the full version string
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X main.gitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	if Flag != "" {
		Version += "-" + Flag
	}

	if GitCommit != "" {
		Version += "-" + GitCommit[:8]
	}
}
