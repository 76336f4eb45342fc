package ports

import "net/http"

// HTTPClient is the seam between the ingest client and the network.
// *http.Client satisfies it directly; tests substitute fakes to observe
// or fail individual fragment transfers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
