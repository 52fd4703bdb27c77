package handlers

import (
	"net/http"
)

var (
	// Set from main via SetBuildInfo.
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetBuildInfo records the ldflags build values reported by /api/version.
func SetBuildInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

// VersionResponse describes the running API.
type VersionResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
}

func (a *API) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Title:       a.cfg.Title,
		Description: a.cfg.Description,
		Version:     buildVersion,
		Commit:      buildCommit,
		Date:        buildDate,
	})
}
