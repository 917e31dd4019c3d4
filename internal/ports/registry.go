package ports

import (
	"context"
	"io"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

// TokenSource yields a bearer token that is valid at the time of return.
type TokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// ArchiveSourcePort fetches package archives and their published checksums.
type ArchiveSourcePort interface {
	// DownloadArchive streams the archive for version into dst.
	DownloadArchive(ctx context.Context, version types.PackageVersion, dst io.Writer) error
	// PublishedChecksum returns the checksum published alongside the
	// archive, in any form archive.ParseDigest accepts.
	PublishedChecksum(ctx context.Context, version types.PackageVersion) (string, error)
}

// RegistryPort is the full registry surface used by the CLI.
type RegistryPort interface {
	ArchiveSourcePort
	CompatibilityPort
	ListVersions(ctx context.Context, pkg types.PackageID) ([]string, error)
}
