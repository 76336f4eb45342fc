package config

// Profile describes a named ingest destination.
type Profile struct {
	// Name is the profile identifier used in configuration.
	Name string

	// URL is the default ingest endpoint base URL. Empty means the user
	// must supply one.
	URL string
}

// Profiles is the registry of known ingest destinations. The "custom"
// profile carries no URL and requires ingest-url in configuration.
var Profiles = map[string]Profile{
	"youtube": {
		Name: "youtube",
		URL:  "https://a.upload.youtube.com/http_upload_hls",
	},
	"custom": {
		Name: "custom",
	},
}
