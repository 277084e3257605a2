// Package provision locates or installs a Chrome binary and prepares a
// disposable copy of the user's browser profile for a session.
package provision

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ErrBrowserNotFound: no usable browser binary could be resolved.
var ErrBrowserNotFound = errors.New("provision: browser not found")

const lkgDownloadsURL = "https://googlechromelabs.github.io/chrome-for-testing/last-known-good-versions-with-downloads.json"

// Options controls browser resolution.
type Options struct {
	// ExplicitPath short-circuits resolution when set.
	ExplicitPath string
	// Channel selects the Chrome-for-Testing channel for cached installs
	// and downloads: stable, beta, dev, canary. Default: stable.
	Channel string
	// CacheDir is the base directory for downloaded browsers.
	// Default: <user cache dir>/nibs.
	CacheDir string
	// AllowDownload gates the Chrome-for-Testing download fallback.
	AllowDownload bool

	Logger *slog.Logger
	Client *http.Client

	// Test hooks.
	lookPath func(string) (string, error)
	getenv   func(string) string
}

func (o *Options) defaults() {
	if o.Channel == "" {
		o.Channel = "stable"
	}
	if o.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			o.CacheDir = filepath.Join(dir, "nibs")
		} else {
			o.CacheDir = filepath.Join(os.TempDir(), "nibs-cache")
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if o.lookPath == nil {
		o.lookPath = exec.LookPath
	}
	if o.getenv == nil {
		o.getenv = os.Getenv
	}
}

// ResolveBrowser returns a browser executable path. Resolution order:
//
//  1. Options.ExplicitPath
//  2. NIBS_BROWSER_PATH
//  3. a previously installed Chrome-for-Testing in the cache
//  4. a system Chrome/Chromium on PATH
//  5. Chrome-for-Testing last-known-good download (when AllowDownload)
func ResolveBrowser(ctx context.Context, opts Options) (string, error) {
	opts.defaults()

	if opts.ExplicitPath != "" {
		return validateExecutable(opts.ExplicitPath)
	}
	if p := strings.TrimSpace(opts.getenv("NIBS_BROWSER_PATH")); p != "" {
		return validateExecutable(p)
	}

	key, err := platformKey()
	if err == nil {
		if installed := readInstalled(metadataPath(opts.CacheDir, opts.Channel, key)); installed != nil {
			return installed.ExecutablePath, nil
		}
	}

	if p := findSystemBrowser(opts.lookPath); p != "" {
		return p, nil
	}

	if !opts.AllowDownload {
		return "", fmt.Errorf("%w: no Chrome/Chromium on this system; install one, set NIBS_BROWSER_PATH, or enable download", ErrBrowserNotFound)
	}
	if err != nil {
		return "", err
	}
	return ensureChromeForTesting(ctx, opts, key)
}

func validateExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: executable %s: %v", ErrBrowserNotFound, path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrBrowserNotFound, path)
	}
	return path, nil
}

// Chrome names are preferred over Chromium: the stealth setup is only
// exercised against Chrome.
var systemBrowserNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
}

func findSystemBrowser(lookPath func(string) (string, error)) string {
	for _, name := range systemBrowserNames {
		if p, err := lookPath(name); err == nil && p != "" {
			return p
		}
	}
	return ""
}

func platformKey() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if runtime.GOARCH == "amd64" {
			return "linux64", nil
		}
	case "darwin":
		switch runtime.GOARCH {
		case "amd64":
			return "mac-x64", nil
		case "arm64":
			return "mac-arm64", nil
		}
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "win64", nil
		}
		return "win32", nil
	}
	return "", fmt.Errorf("%w: no Chrome-for-Testing build for %s/%s", ErrBrowserNotFound, runtime.GOOS, runtime.GOARCH)
}

func archiveRoot(key string) string { return "chrome-" + key }

func executableIn(versionDir, key string) string {
	root := filepath.Join(versionDir, archiveRoot(key))
	switch {
	case strings.HasPrefix(key, "linux"):
		return filepath.Join(root, "chrome")
	case strings.HasPrefix(key, "win"):
		return filepath.Join(root, "chrome.exe")
	default:
		return filepath.Join(root, "Google Chrome for Testing.app", "Contents", "MacOS", "Google Chrome for Testing")
	}
}

type installedBrowser struct {
	Version        string `json:"version"`
	Channel        string `json:"channel"`
	Platform       string `json:"platform"`
	ExecutablePath string `json:"executable_path"`
	URL            string `json:"url,omitempty"`
	InstalledAt    int64  `json:"installed_at,omitempty"`
}

func metadataPath(cacheDir, channel, key string) string {
	return filepath.Join(cacheDir, "chrome-for-testing", channel, key, "installed.json")
}

func readInstalled(metaPath string) *installedBrowser {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil
	}
	var ib installedBrowser
	if err := json.Unmarshal(raw, &ib); err != nil {
		return nil
	}
	if _, err := os.Stat(ib.ExecutablePath); err != nil {
		return nil
	}
	return &ib
}

func writeInstalled(metaPath string, ib installedBrowser) error {
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(ib, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, append(raw, '\n'), 0o644)
}

// lkgManifest is the shape of the last-known-good downloads feed.
type lkgManifest struct {
	Channels map[string]struct {
		Version   string `json:"version"`
		Downloads struct {
			Chrome []struct {
				Platform string `json:"platform"`
				URL      string `json:"url"`
			} `json:"chrome"`
		} `json:"downloads"`
	} `json:"channels"`
}

var channelKeys = map[string]string{
	"stable": "Stable",
	"beta":   "Beta",
	"dev":    "Dev",
	"canary": "Canary",
}

// ensureChromeForTesting downloads and installs the last-known-good
// build for the channel, staging the extraction so a crashed install
// never leaves a half-written version directory behind.
func ensureChromeForTesting(ctx context.Context, opts Options, key string) (string, error) {
	chKey, ok := channelKeys[opts.Channel]
	if !ok {
		return "", fmt.Errorf("%w: unknown channel %q", ErrBrowserNotFound, opts.Channel)
	}

	opts.Logger.Info("provision: resolving chrome-for-testing", "channel", opts.Channel, "platform", key)
	manifest, err := fetchManifest(ctx, opts.Client)
	if err != nil {
		return "", err
	}
	ch, ok := manifest.Channels[chKey]
	if !ok {
		return "", fmt.Errorf("%w: channel %q missing from downloads feed", ErrBrowserNotFound, opts.Channel)
	}

	var url string
	for _, d := range ch.Downloads.Chrome {
		if d.Platform == key {
			url = d.URL
			break
		}
	}
	if url == "" {
		return "", fmt.Errorf("%w: no %s download for platform %s", ErrBrowserNotFound, opts.Channel, key)
	}

	base := filepath.Join(opts.CacheDir, "chrome-for-testing", opts.Channel, key)
	versionDir := filepath.Join(base, ch.Version)
	exe := executableIn(versionDir, key)
	metaPath := metadataPath(opts.CacheDir, opts.Channel, key)

	if _, err := os.Stat(exe); err == nil {
		_ = writeInstalled(metaPath, installedBrowser{
			Version: ch.Version, Channel: opts.Channel, Platform: key,
			ExecutablePath: exe, URL: url, InstalledAt: time.Now().Unix(),
		})
		return exe, nil
	}

	staging := filepath.Join(base, fmt.Sprintf(".staging-%s-%d-%d", ch.Version, os.Getpid(), time.Now().Unix()))
	defer os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("provision: staging dir: %w", err)
	}

	archive := filepath.Join(staging, "chrome.zip")
	opts.Logger.Info("provision: downloading browser", "url", url, "version", ch.Version)
	if err := downloadFile(ctx, opts.Client, url, archive); err != nil {
		return "", err
	}

	extract := filepath.Join(staging, "extract")
	if err := safeExtractZip(archive, extract); err != nil {
		return "", err
	}
	if _, err := os.Stat(executableIn(extract, key)); err != nil {
		return "", fmt.Errorf("%w: archive missing executable for platform %s", ErrBrowserNotFound, key)
	}

	_ = os.RemoveAll(versionDir)
	if err := os.MkdirAll(filepath.Dir(versionDir), 0o755); err != nil {
		return "", fmt.Errorf("provision: version dir: %w", err)
	}
	if err := os.Rename(extract, versionDir); err != nil {
		return "", fmt.Errorf("provision: install rename: %w", err)
	}

	if err := os.Chmod(exe, 0o755); err != nil {
		opts.Logger.Warn("provision: chmod executable failed", "path", exe, "error", err)
	}
	if err := writeInstalled(metaPath, installedBrowser{
		Version: ch.Version, Channel: opts.Channel, Platform: key,
		ExecutablePath: exe, URL: url, InstalledAt: time.Now().Unix(),
	}); err != nil {
		opts.Logger.Warn("provision: write install metadata failed", "error", err)
	}

	opts.Logger.Info("provision: browser installed", "path", exe)
	return exe, nil
}

func fetchManifest(ctx context.Context, client *http.Client) (*lkgManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lkgDownloadsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("provision: manifest request: %w", err)
	}
	req.Header.Set("User-Agent", "nibs")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provision: fetch downloads feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provision: downloads feed: %s", resp.Status)
	}

	var m lkgManifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("provision: decode downloads feed: %w", err)
	}
	return &m, nil
}

func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provision: download request: %w", err)
	}
	req.Header.Set("User-Agent", "nibs")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provision: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provision: download %s: %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("provision: create %s: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("provision: write %s: %w", dest, err)
	}
	return nil
}

// safeExtractZip extracts an archive while refusing member names that
// would escape the destination directory.
func safeExtractZip(zipPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("provision: extract dir: %w", err)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("provision: open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("provision: refusing suspicious zip path %q", f.Name)
		}
		out := filepath.Join(destDir, name)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fmt.Errorf("provision: extract mkdir: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("provision: extract mkdir: %w", err)
		}
		if err := extractFile(f, out); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, out string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("provision: open zip member %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("provision: create %s: %w", out, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("provision: extract %q: %w", f.Name, err)
	}
	return nil
}
