// Package updater provides self-update for the wardclaw binary. It
// checks the latest GitHub release and can download, extract, and swap
// the running executable.
package updater

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	githubOwner    = "mackeh"
	githubRepo     = "WardClaw"
	defaultAPIBase = "https://api.github.com"
	binaryName     = "wardclaw"
)

// Release represents a GitHub release.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Asset represents a GitHub release asset.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Updater talks to the GitHub releases API. APIBase is overridable so
// tests can point it at a local server.
type Updater struct {
	APIBase string
	Client  *http.Client
}

// New returns an updater against the public GitHub API.
func New() *Updater {
	return &Updater{
		APIBase: defaultAPIBase,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (u *Updater) latest() (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.APIBase, githubOwner, githubRepo)
	resp, err := u.Client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}
	return &release, nil
}

// Check compares the current version with the latest GitHub release.
// Returns the latest tag name if an update is available, or an empty
// string.
func (u *Updater) Check(currentVersion string) (string, error) {
	release, err := u.latest()
	if err != nil {
		return "", err
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	current := strings.TrimPrefix(currentVersion, "v")

	if latest != current {
		return latest, nil
	}
	return "", nil
}

// Apply downloads the latest release and replaces the running binary.
func (u *Updater) Apply() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return u.applyTo(executable)
}

func (u *Updater) applyTo(dest string) error {
	release, err := u.latest()
	if err != nil {
		return err
	}

	asset, ok := pickAsset(release.Assets)
	if !ok {
		return fmt.Errorf("no suitable binary found for %s/%s in release %s", runtime.GOOS, runtime.GOARCH, release.TagName)
	}

	fmt.Printf("📥 Downloading %s...\n", asset.Name)

	archive, err := u.download(asset.BrowserDownloadURL)
	if err != nil {
		return err
	}
	defer os.Remove(archive)

	// Extract next to the target so the final rename stays on one
	// filesystem.
	staged := dest + ".new"
	switch {
	case strings.HasSuffix(asset.Name, ".tar.gz"):
		err = extractTarGz(archive, staged)
	case strings.HasSuffix(asset.Name, ".zip"):
		err = extractZip(archive, staged)
	default:
		err = fmt.Errorf("unsupported archive format: %s", asset.Name)
	}
	if err != nil {
		return err
	}

	if err := os.Rename(staged, dest); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to replace binary: %w", err)
	}

	fmt.Printf("✅ Updated to %s. Restart wardclaw to use the new version.\n", release.TagName)
	return nil
}

func (u *Updater) download(url string) (string, error) {
	resp, err := u.Client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "wardclaw-update-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// pickAsset finds the archive matching the goreleaser naming scheme
// for the running platform.
func pickAsset(assets []Asset) (Asset, bool) {
	target := assetTarget()
	for _, asset := range assets {
		if !strings.Contains(asset.Name, target) {
			continue
		}
		if strings.HasSuffix(asset.Name, ".tar.gz") || strings.HasSuffix(asset.Name, ".zip") {
			return asset, true
		}
	}
	return Asset{}, false
}

func assetTarget() string {
	osPart := strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x86_64"
	}
	return osPart + "_" + arch
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binaryName {
			continue
		}
		return writeBinary(dest, tr)
	}
	return fmt.Errorf("archive does not contain a %s binary", binaryName)
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	want := binaryName
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	for _, f := range zr.File {
		if filepath.Base(f.Name) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeBinary(dest, rc)
	}
	return fmt.Errorf("archive does not contain a %s binary", want)
}

func writeBinary(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
