package request

type SubmitIngestRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}
