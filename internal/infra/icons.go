package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gosimple/slug"
)

// IconFetcher downloads collection icons and keeps square thumbnails on disk
type IconFetcher struct {
	basePath string
	size     int
	client   *http.Client
}

// NewIconFetcher creates an IconFetcher rooted at dir (per-user config dir when empty)
func NewIconFetcher(dir string, size int) (*IconFetcher, error) {
	path := dir
	if path == "" {
		var err error
		if path, err = getAssetsPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve assets path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconFetcher{
		basePath: path,
		size:     size,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Fetch downloads the icon at url for the collection symbol unless it is
// already on disk, and returns the local file path.
func (f *IconFetcher) Fetch(ctx context.Context, symbol, url string) (string, error) {
	filePath := f.IconPath(symbol)
	if filePath == "" {
		return "", fmt.Errorf("invalid symbol: %q", symbol)
	}

	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Cache Hit
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Center-crop to a square thumbnail
	thumb := imaging.Fill(srcImg, f.size, f.size, imaging.Center, imaging.Lanczos)

	if err := imaging.Save(thumb, filePath); err != nil {
		return "", fmt.Errorf("failed to save icon: %w", err)
	}

	return filePath, nil
}

// IconPath returns the local path for a collection symbol's icon.
// Symbols are slugged so no path separator reaches the file system.
func (f *IconFetcher) IconPath(symbol string) string {
	name := slug.Make(symbol)
	if name == "" {
		return ""
	}
	return filepath.Join(f.basePath, name+".png")
}

func getAssetsPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Comptoir", "assets", "icons"), nil
}
