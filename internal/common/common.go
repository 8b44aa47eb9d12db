package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey    = "X-API-Key" // #nosec G101 - header name constant, not a credential
	ContentTypeJSON = "application/json"
)

// API paths
const (
	PathRoot    = "/"
	PathHealthz = "/healthz"
	PathFetch   = "/fetch"
	PathUpload  = "/upload"
	PathJobs    = "/v1/jobs"
	PathMedia   = "/media"
)

// Defaults and limits
const (
	DefaultQueueCapacity  = 16
	DefaultUploadParallel = 2
	SQLiteBusyTimeoutMS   = 5000
)

// Segment naming
const (
	SegmentPrefix    = "part_"
	SegmentExtension = ".mp4"
)

// MIME types
const (
	MimeVideoMP4       = "video/mp4"
	MimeVideoM4V       = "video/x-m4v"
	MimeVideoQuickTime = "video/quicktime"
	MimeOctetStream    = "application/octet-stream"
)

// segmentMimeTypes maps the containers ffmpeg can write H.264/AAC segments to.
var segmentMimeTypes = map[string]string{
	".mp4": MimeVideoMP4,
	".m4v": MimeVideoM4V,
	".mov": MimeVideoQuickTime,
}

// IsSegmentExtension reports whether segments can be rendered with ext.
func IsSegmentExtension(ext string) bool {
	_, ok := segmentMimeTypes[ext]
	return ok
}

// SegmentMimeType returns the MIME type of a segment extension, or
// MimeOctetStream for anything else.
func SegmentMimeType(ext string) string {
	if t, ok := segmentMimeTypes[ext]; ok {
		return t
	}
	return MimeOctetStream
}

// Subdirectory and file names
const (
	UploadsDirName  = "uploads"
	SegmentsDirName = "segments"
	SourcesDirName  = "sources"
	LockFileName    = "reelcaster.lock"
	DatabaseName    = "reelcaster.db"
)

// Notification event names
const (
	EventPublished = "published"
	EventRecreated = "recreated"
	EventProduced  = "produced"
)
