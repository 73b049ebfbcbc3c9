package build

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Version is injected at build time with -ldflags "-X ...build.Version=...".
var Version = "v0.1.0-dev"

// ReleasesURL is queried by LatestVersion.
var ReleasesURL = "https://api.github.com/repos/Josepavese/nidolab/releases/latest"

// LatestVersion fetches the latest release tag.
func LatestVersion() (string, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(ReleasesURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release lookup: %s", resp.Status)
	}
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	return release.TagName, nil
}
