package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
)

func mkAnalysisDir(outputsRoot, id string) (string, error) {
	dir := filepath.Join(outputsRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// persist writes the raw segments and the full report under
// <outputsRoot>/<id>/ and returns that directory.
func persist(outputsRoot string, rep *Report) (string, error) {
	dir, err := mkAnalysisDir(outputsRoot, rep.ID)
	if err != nil {
		return "", err
	}
	// keep the raw array in segments.json, exactly as returned
	if err := writeJSON(filepath.Join(dir, "segments.json"), rep.Segments); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "report.json"), rep); err != nil {
		return "", err
	}
	return dir, nil
}
