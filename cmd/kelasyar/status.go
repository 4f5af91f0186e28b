package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/4xmen/kelasyar/internal/db"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/4xmen/kelasyar/pkg/config"
)

type appStatus struct {
	GeneratedAt       time.Time
	Environment       string
	APIBaseURL        string
	CacheDBPath       string
	DownloadDir       string
	SignedIn          bool
	UserID            int
	Role              string
	CachedUsers       int64
	CachedParents     int64
	CachedAvatars     int64
	AvatarBytes       int64
	LastUserSync      string
	CacheBytes        int64
	DownloadDirSize   int64
	DownloadFileCount int64
	DBMetricsReady    bool
	DBWarning         string
	StorageWarnings   []string
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, cache *db.DB, sess session.Provider, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	status := collectStatus(cfg, cache, sess)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(cfg *config.Config, cache *db.DB, sess session.Provider) appStatus {
	status := appStatus{
		GeneratedAt: time.Now(),
		Environment: cfg.Environment,
		APIBaseURL:  cfg.APIBaseURL,
		CacheDBPath: cfg.CacheDBPath,
		DownloadDir: cfg.DownloadDir,
	}

	if u, err := session.Require(sess); err == nil {
		status.SignedIn = true
		status.UserID = u.ID
		status.Role = string(u.Role)
	}

	if size, err := cacheFootprint(cfg.CacheDBPath); err == nil {
		status.CacheBytes = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("cache file: %v", err))
	}

	if bytes, files, err := dirUsage(cfg.DownloadDir); err == nil {
		status.DownloadDirSize = bytes
		status.DownloadFileCount = files
	} else if !os.IsNotExist(err) {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("download dir: %v", err))
	}

	if cache == nil {
		status.DBWarning = "cache unavailable"
		return status
	}
	stats, err := cache.Stats()
	if err != nil {
		status.DBWarning = err.Error()
		return status
	}
	status.CachedUsers = stats.Users
	status.CachedParents = stats.Parents
	status.CachedAvatars = stats.Avatars
	status.AvatarBytes = stats.AvatarBytes
	status.LastUserSync = stats.LastUserSync
	status.DBMetricsReady = true
	return status
}

// cacheFootprint sums the cache database and its WAL sidecar files.
func cacheFootprint(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	total := info.Size()
	for _, suffix := range []string{"-wal", "-shm"} {
		if side, err := os.Stat(path + suffix); err == nil {
			total += side.Size()
		}
	}
	return total, nil
}

func dirUsage(root string) (int64, int64, error) {
	var totalBytes int64
	var totalFiles int64

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		totalBytes += info.Size()
		totalFiles++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return totalBytes, totalFiles, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTimestamp(value string) string {
	if value == "" {
		return "n/a"
	}
	return value
}

func printStatus(out io.Writer, status appStatus) {
	fmt.Fprintln(out, "Kelasyar Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "API         : %s\n", status.APIBaseURL)
	fmt.Fprintf(out, "Cache       : %s\n", status.CacheDBPath)
	fmt.Fprintf(out, "Downloads   : %s\n", status.DownloadDir)
	if status.SignedIn {
		fmt.Fprintf(out, "Session     : user #%d (%s)\n", status.UserID, status.Role)
	} else {
		fmt.Fprintln(out, "Session     : signed out")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Cache")
	if status.DBMetricsReady {
		fmt.Fprintf(out, "  Users             : %d\n", status.CachedUsers)
		fmt.Fprintf(out, "  Parents           : %d\n", status.CachedParents)
		fmt.Fprintf(out, "  Avatars           : %d\n", status.CachedAvatars)
		fmt.Fprintf(out, "  Avatar bytes      : %s\n", formatBytes(status.AvatarBytes))
		fmt.Fprintf(out, "  Last user sync    : %s\n", formatTimestamp(status.LastUserSync))
	} else {
		fmt.Fprintln(out, "  Cache metrics     : n/a")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage")
	fmt.Fprintf(out, "  Cache on disk  : %s\n", formatBytes(status.CacheBytes))
	fmt.Fprintf(out, "  Download files : %d\n", status.DownloadFileCount)
	fmt.Fprintf(out, "  Download size  : %s\n", formatBytes(status.DownloadDirSize))

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"api_base_url":  status.APIBaseURL,
		"cache_db_path": status.CacheDBPath,
		"download_dir":  status.DownloadDir,
		"session": map[string]any{
			"signed_in": status.SignedIn,
			"user_id":   status.UserID,
			"role":      status.Role,
		},
		"metrics_ready": status.DBMetricsReady,
		"metrics": map[string]any{
			"users":            status.CachedUsers,
			"parents":          status.CachedParents,
			"avatars":          status.CachedAvatars,
			"avatar_bytes":     status.AvatarBytes,
			"avatar_bytes_hum": formatBytes(status.AvatarBytes),
			"last_user_sync":   formatTimestamp(status.LastUserSync),
		},
		"storage": map[string]any{
			"cache_bytes":         status.CacheBytes,
			"cache_hum":           formatBytes(status.CacheBytes),
			"download_dir_bytes":  status.DownloadDirSize,
			"download_file_count": status.DownloadFileCount,
			"download_dir_hum":    formatBytes(status.DownloadDirSize),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
