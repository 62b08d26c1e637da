// File: internal/dispatch/artifact.go
package dispatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrArtifactNotFound is returned when no playback archive exists in the artifact directory.
var ErrArtifactNotFound = errors.New("runner artifact not found")

const (
	artifactExt = ".jar"
	fatJarMark  = "jar-with-dependencies"
)

var runnerNamePattern = regexp.MustCompile(`(?i)record|runner`)

// Diagnostics describes what the artifact search saw. It is returned to
// callers so a missing build can be debugged remotely.
type Diagnostics struct {
	Dir  string   `json:"dir"`
	Jars []string `json:"jars"`
}

// FindArtifact picks the playback archive in dir. A fat jar wins, then a name
// mentioning record or runner, then the first archive in listing order.
func FindArtifact(dir string) (string, Diagnostics, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	diag := Diagnostics{Dir: abs, Jars: []string{}}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", diag, fmt.Errorf("%w: directory %s does not exist", ErrArtifactNotFound, abs)
		}
		return "", diag, fmt.Errorf("failed to scan artifact directory %s: %w", abs, err)
	}

	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), artifactExt) {
			diag.Jars = append(diag.Jars, e.Name())
		}
	}
	if len(diag.Jars) == 0 {
		return "", diag, fmt.Errorf("%w: no %s files in %s", ErrArtifactNotFound, artifactExt, abs)
	}

	return filepath.Join(abs, pickArtifact(diag.Jars)), diag, nil
}

func pickArtifact(jars []string) string {
	for _, j := range jars {
		if strings.Contains(j, fatJarMark) {
			return j
		}
	}
	for _, j := range jars {
		if runnerNamePattern.MatchString(j) {
			return j
		}
	}
	return jars[0]
}
