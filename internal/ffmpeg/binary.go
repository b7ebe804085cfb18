// Package ffmpeg provides FFmpeg/FFprobe binary detection and process wrappers.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variables that override binary lookup.
const (
	EnvFFmpegBinary  = "VIDPACE_FFMPEG_BINARY"
	EnvFFprobeBinary = "VIDPACE_FFPROBE_BINARY"
)

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath   string   `json:"ffmpeg_path"`
	FFprobePath  string   `json:"ffprobe_path"`
	Version      string   `json:"version"`
	MajorVersion int      `json:"major_version"`
	MinorVersion int      `json:"minor_version"`
	Encoders     []string `json:"encoders,omitempty"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a new binary detector. Explicit paths win over
// environment variables and PATH lookup; empty means auto-detect.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect detects FFmpeg and FFprobe binaries and their encoders.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := resolve(d.ffmpegPath, "ffmpeg", EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is required for asset inspection but not for encoding.
	if ffprobePath, err := resolve(d.ffprobePath, "ffprobe", EnvFFprobeBinary); err == nil {
		info.FFprobePath = ffprobePath
	}

	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	full, major, minor, err := parseVersion(output)
	if err != nil {
		return nil, err
	}
	info.Version = full
	info.MajorVersion = major
	info.MinorVersion = minor

	if output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(output)
	}

	return info, nil
}

// parseVersion extracts the version from `ffmpeg -version` output. Accepts
// "6.0", "n6.0-2-g..." and "6.0.1" forms.
func parseVersion(output []byte) (full string, major, minor int, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			break
		}
		full = parts[2]
		if m := versionRegex.FindStringSubmatch(full); len(m) >= 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("failed to parse ffmpeg version")
}

// parseEncoders reads the `ffmpeg -encoders` table.
// Format: " V....D encoder_name description".
func parseEncoders(output []byte) []string {
	var encoders []string
	inList := false

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 || (line[0] != 'V' && line[0] != 'A' && line[0] != 'S') {
			continue
		}
		if fields := strings.Fields(line[6:]); len(fields) > 0 {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}

func resolve(explicit, name, envVar string) (string, error) {
	if explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("configured binary %s is not executable", explicit)
	}
	return FindBinary(name, envVar)
}

// FindBinary searches for an executable binary by name.
// Search order:
//  1. Environment variable (if envVar is non-empty and set)
//  2. ./name (current directory, useful for development)
//  3. name on PATH
func FindBinary(name string, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	if localPath := "./" + name; isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
